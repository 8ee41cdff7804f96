// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package gitbackend

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// ExecBackend is the concrete Backend that shells out to a real `git`
// binary, in the same style as the teacher's jjvcs.client: every
// operation is one exec.Command invocation with stdout/stderr
// captured separately. Grounded on jjvcs.client.Run and
// quilt.ApplyPatch/ApplyPatchReverse.
type ExecBackend struct {
	Dir string // working directory (git worktree root)
	Log *logrus.Entry

	commitCache *lru.Cache[string, CommitInfo]
}

// NewExecBackend builds a Backend rooted at dir. log may be nil, in
// which case a fresh logrus logger writing to stderr at its default
// (Info) level is used.
func NewExecBackend(dir string, log *logrus.Entry) *ExecBackend {
	if log == nil {
		l := logrus.New()
		l.SetOutput(os.Stderr)
		log = logrus.NewEntry(l)
	}
	cache, _ := lru.New[string, CommitInfo](512)
	return &ExecBackend{Dir: dir, Log: log, commitCache: cache}
}

func (b *ExecBackend) run(ctx context.Context, stdin []byte, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = b.Dir
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	b.Log.WithField("args", args).Debug("running git")
	err := cmd.Run()
	if err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), stderr.String(), nil
}

func (b *ExecBackend) Resolve(ctx context.Context, refname string) (string, bool, error) {
	out, _, err := b.run(ctx, nil, "rev-parse", "--verify", "--quiet", refname)
	if err != nil {
		return "", false, nil
	}
	return strings.TrimSpace(out), true, nil
}

func (b *ExecBackend) ReadCommit(ctx context.Context, id string) (CommitInfo, error) {
	if b.commitCache != nil {
		if ci, ok := b.commitCache.Get(id); ok {
			return ci, nil
		}
	}
	tpl := "%H%x00%T%x00%P%x00%an%x00%ae%x00%ad%x00%cn%x00%ce%x00%cd%x00%B"
	out, _, err := b.run(ctx, nil, "log", "-1", "--format="+tpl, id)
	if err != nil {
		return CommitInfo{}, err
	}
	parts := strings.SplitN(strings.TrimRight(out, "\n"), "\x00", 10)
	if len(parts) != 10 {
		return CommitInfo{}, fmt.Errorf("unexpected git log output for %s", id)
	}
	ci := CommitInfo{
		ID:      parts[0],
		Tree:    parts[1],
		Parents: fieldsOrNil(parts[2]),
		Author:  Person{Name: parts[3], Email: parts[4], Date: parts[5]},
		Committer: Person{Name: parts[6], Email: parts[7], Date: parts[8]},
		Message: parts[9],
	}
	if b.commitCache != nil {
		b.commitCache.Add(id, ci)
	}
	return ci, nil
}

func fieldsOrNil(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}

func (b *ExecBackend) Commit(ctx context.Context, req CommitRequest) (string, error) {
	args := []string{"commit-tree", req.Tree}
	for _, p := range req.Parents {
		args = append(args, "-p", p)
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = b.Dir
	cmd.Stdin = strings.NewReader(req.Message)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME="+req.Author.Name,
		"GIT_AUTHOR_EMAIL="+req.Author.Email,
		"GIT_AUTHOR_DATE="+req.Author.Date,
		"GIT_COMMITTER_NAME="+req.Committer.Name,
		"GIT_COMMITTER_EMAIL="+req.Committer.Email,
		"GIT_COMMITTER_DATE="+req.Committer.Date,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git commit-tree: %w: %s", err, stderr.String())
	}
	id := strings.TrimSpace(stdout.String())
	b.commitCache.Remove(id)
	return id, nil
}

func (b *ExecBackend) WriteTreeFromIndex(ctx context.Context) (string, error) {
	out, _, err := b.run(ctx, nil, "write-tree")
	return strings.TrimSpace(out), err
}

func (b *ExecBackend) ReadTree(ctx context.Context, tree string) error {
	_, _, err := b.run(ctx, nil, "read-tree", tree)
	return err
}

func (b *ExecBackend) CheckoutIndexToWorktree(ctx context.Context) error {
	_, _, err := b.run(ctx, nil, "checkout-index", "-a", "-f")
	return err
}

func (b *ExecBackend) Diff(ctx context.Context, oldTree, newTree string) ([]byte, error) {
	out, _, err := b.run(ctx, nil, "diff", "--no-color", oldTree, newTree)
	return []byte(out), err
}

func (b *ExecBackend) Apply(ctx context.Context, diff []byte, opts ApplyOptions) error {
	args := []string{"apply", "--index", "-p", strconv.Itoa(opts.Strip)}
	if opts.Reject {
		args = append(args, "--reject")
	}
	if opts.Quiet {
		args = append(args, "--quiet")
	}
	_, stderr, err := b.run(ctx, diff, args...)
	if err != nil {
		af := &ApplyFailed{Stderr: stderr}
		if opts.Reject {
			af.Rejects = parseRejectPaths(stderr)
		}
		return af
	}
	return nil
}

func parseRejectPaths(stderr string) []string {
	var paths []string
	for _, line := range strings.Split(stderr, "\n") {
		if strings.Contains(line, ".rej") {
			if i := strings.LastIndex(line, " "); i >= 0 {
				paths = append(paths, strings.TrimSpace(line[i:]))
			}
		}
	}
	return paths
}

func (b *ExecBackend) ThreeWayMerge(ctx context.Context, baseTree, oursTree, theirsTree string) error {
	_, stderr, err := b.run(ctx, nil, "read-tree", "-m", "--aggressive", baseTree, oursTree, theirsTree)
	if err != nil {
		return &MergeConflicts{Paths: nil}
	}
	out, _, _ := b.run(ctx, nil, "ls-files", "--unmerged")
	if strings.TrimSpace(out) != "" {
		var paths []string
		for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
			f := strings.Fields(line)
			if len(f) > 0 {
				paths = append(paths, f[len(f)-1])
			}
		}
		return &MergeConflicts{Paths: paths}
	}
	_ = stderr
	return nil
}

func (b *ExecBackend) Switch(ctx context.Context, commit string) error {
	if err := b.Reset(ctx, commit, true); err != nil {
		return err
	}
	_, _, err := b.run(ctx, nil, "update-ref", "HEAD", commit)
	return err
}

func (b *ExecBackend) Reset(ctx context.Context, commit string, checkOut bool) error {
	args := []string{"reset"}
	if checkOut {
		args = append(args, "--hard")
	} else {
		args = append(args, "--soft")
	}
	args = append(args, commit)
	_, _, err := b.run(ctx, nil, args...)
	return err
}

func (b *ExecBackend) UpdateRef(ctx context.Context, name, newVal string, expectedOld string, hasExpected bool) error {
	args := []string{"update-ref", name, newVal}
	if hasExpected {
		args = append(args, expectedOld)
	}
	_, stderr, err := b.run(ctx, nil, args...)
	if err != nil {
		return &Stale{Ref: name, Expected: expectedOld, Actual: strings.TrimSpace(stderr)}
	}
	return nil
}

func (b *ExecBackend) DeleteRef(ctx context.Context, name string) error {
	_, _, err := b.run(ctx, nil, "update-ref", "-d", name)
	return err
}

func (b *ExecBackend) RenameBranch(ctx context.Context, from, to string) error {
	_, _, err := b.run(ctx, nil, "branch", "-m", from, to)
	return err
}

func (b *ExecBackend) CreateBranch(ctx context.Context, name, at string) error {
	_, _, err := b.run(ctx, nil, "branch", name, at)
	return err
}

func (b *ExecBackend) Mailsplit(ctx context.Context, raw []byte, outDir string, opts MailsplitOptions) (int, error) {
	args := []string{"mailsplit", "-d4", "-o" + outDir}
	if opts.Mbox {
		args = append(args, "-b")
	}
	if opts.KeepCR {
		args = append(args, "--keep-cr")
	}
	out, _, err := b.run(ctx, raw, args...)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("unexpected mailsplit output %q: %w", out, err)
	}
	return n, nil
}

func (b *ExecBackend) Mailinfo(ctx context.Context, rawMail []byte) (MailInfo, error) {
	dir, err := os.MkdirTemp("", "stgit-mailinfo-*")
	if err != nil {
		return MailInfo{}, err
	}
	defer os.RemoveAll(dir)
	msgPath := dir + "/msg"
	patchPath := dir + "/patch"
	out, _, err := b.run(ctx, rawMail, "mailinfo", msgPath, patchPath)
	if err != nil {
		return MailInfo{}, err
	}
	fields := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		if i := strings.Index(line, ": "); i >= 0 {
			fields[line[:i]] = line[i+2:]
		}
	}
	body, err := os.ReadFile(msgPath)
	if err != nil {
		return MailInfo{}, err
	}
	patch, err := os.ReadFile(patchPath)
	if err != nil {
		return MailInfo{}, err
	}
	return MailInfo{
		Subject: fields["Subject"],
		Author:  fields["Author"],
		Email:   fields["Email"],
		Date:    fields["Date"],
		Body:    string(body),
		Patch:   patch,
	}, nil
}

func (b *ExecBackend) ConfigGet(ctx context.Context, key string) (string, bool, error) {
	out, _, err := b.run(ctx, nil, "config", "--get", key)
	if err != nil {
		return "", false, nil
	}
	return strings.TrimSpace(out), true, nil
}

func (b *ExecBackend) Head(ctx context.Context) (string, error) {
	id, ok, err := b.Resolve(ctx, "HEAD")
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("HEAD does not resolve")
	}
	return id, nil
}

func (b *ExecBackend) CurrentBranch(ctx context.Context) (string, error) {
	out, _, err := b.run(ctx, nil, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (b *ExecBackend) Now() time.Time { return time.Now() }

var _ Backend = (*ExecBackend)(nil)
