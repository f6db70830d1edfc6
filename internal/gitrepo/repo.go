// Package gitrepo reads committed content from a git repository and records
// publish runs as commits. It shells out to the git binary.
package gitrepo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/starford/fedpost/internal/apperr"
)

// CommitPrefix starts the message of every publish commit. The sequence
// number follows it directly.
const CommitPrefix = "fedpost: publish #"

var sequenceRe = regexp.MustCompile(regexp.QuoteMeta(CommitPrefix) + `(\d+)`)

// CommandError is a failed git invocation with its captured diagnostics.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Is classifies every git failure as a version-control error.
func (e *CommandError) Is(target error) bool { return target == apperr.ErrVCS }

// Repo is a git working tree rooted at its top-level directory.
type Repo struct {
	root string
	bin  string
}

// Open finds the repository containing dir.
func Open(ctx context.Context, dir string) (*Repo, error) {
	bin, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("%w: git executable not found: %w", apperr.ErrVCS, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("gitrepo: resolve %s: %w", dir, err)
	}
	r := &Repo{root: abs, bin: bin}
	out, err := r.run(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, err
	}
	r.root = filepath.Clean(strings.TrimSpace(string(out)))
	return r, nil
}

// Root returns the absolute path of the working tree.
func (r *Repo) Root() string { return r.root }

// Rel converts an absolute or root-relative path into a slash separated path
// relative to the repository root. Paths outside the repository are rejected.
func (r *Repo) Rel(p string) (string, error) {
	if !filepath.IsAbs(p) {
		p = filepath.Join(r.root, p)
	}
	rel, err := filepath.Rel(r.root, filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("gitrepo: %s: %w", p, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("gitrepo: %s is outside repository %s", p, r.root)
	}
	return rel, nil
}

// ListMarkdownFiles returns the markdown files tracked at HEAD under subtree,
// sorted lexicographically.
func (r *Repo) ListMarkdownFiles(ctx context.Context, subtree string) ([]string, error) {
	args := []string{"ls-tree", "-r", "-z", "--name-only", "HEAD"}
	if subtree != "" && subtree != "." {
		args = append(args, "--", subtree)
	}
	out, err := r.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, name := range strings.Split(string(out), "\x00") {
		if name == "" {
			continue
		}
		switch strings.ToLower(path.Ext(name)) {
		case ".md", ".markdown":
			files = append(files, name)
		}
	}
	sort.Strings(files)
	return files, nil
}

// ReadFileAtHead returns the committed content of a tracked file.
// Uncommitted edits in the working tree are not visible.
func (r *Repo) ReadFileAtHead(ctx context.Context, p string) ([]byte, error) {
	return r.run(ctx, "cat-file", "blob", "HEAD:"+p)
}

// AssertClean fails when the working tree has staged, modified or untracked
// changes.
func (r *Repo) AssertClean(ctx context.Context) error {
	out, err := r.run(ctx, "status", "--porcelain", "-z", "--untracked-files=all")
	if err != nil {
		return err
	}
	var dirty []string
	for _, entry := range strings.Split(string(out), "\x00") {
		if len(entry) > 3 {
			dirty = append(dirty, strings.TrimSpace(entry))
		}
	}
	if len(dirty) == 0 {
		return nil
	}
	const shown = 5
	list := dirty
	if len(list) > shown {
		list = append(list[:shown:shown], fmt.Sprintf("... %d more", len(dirty)-shown))
	}
	return fmt.Errorf("%w: working tree has uncommitted changes: %s", apperr.ErrPrecondition, strings.Join(list, ", "))
}

// Commit stages exactly paths and records them in one commit, returning the
// new HEAD hash. An empty path list is an error.
func (r *Repo) Commit(ctx context.Context, paths []string, message string) (string, error) {
	if len(paths) == 0 {
		return "", fmt.Errorf("%w: nothing to commit", apperr.ErrVCS)
	}
	if _, err := r.run(ctx, append([]string{"add", "--"}, paths...)...); err != nil {
		return "", err
	}
	if _, err := r.run(ctx, append([]string{"commit", "--quiet", "-m", message, "--"}, paths...)...); err != nil {
		return "", err
	}
	return r.Head(ctx)
}

// NextSequenceNumber returns one more than the highest publish counter found
// in the commit history, or 1 when there is none.
func (r *Repo) NextSequenceNumber(ctx context.Context) (int, error) {
	out, err := r.run(ctx, "log", "--format=%B")
	if err != nil {
		return 0, err
	}
	return nextSequence(string(out)), nil
}

func nextSequence(history string) int {
	highest := 0
	for _, m := range sequenceRe.FindAllStringSubmatch(history, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return highest + 1
}

// Head returns the commit hash HEAD points to.
func (r *Repo) Head(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// GitDir returns the absolute path of the repository's git directory.
func (r *Repo) GitDir(ctx context.Context) (string, error) {
	out, err := r.run(ctx, "rev-parse", "--absolute-git-dir")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (r *Repo) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.bin, args...)
	cmd.Dir = r.root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, &CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}
