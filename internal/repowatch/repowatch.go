// Package repowatch tracks the head of a branch in customer repositories
// and reports when the watched onboarding path changes between heads.
package repowatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/checksumhq/danny/internal/models"
	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// reposAPI is the subset of the GitHub repositories service used here.
type reposAPI interface {
	GetBranch(ctx context.Context, owner, repo, branch string, maxRedirects int) (*github.Branch, *github.Response, error)
	GetContents(ctx context.Context, owner, repo, path string, opts *github.RepositoryContentGetOptions) (*github.RepositoryContent, []*github.RepositoryContent, *github.Response, error)
}

// Change describes a watched path that differs between two branch heads.
type Change struct {
	Repo    string
	FromSHA string
	ToSHA   string
	OldBlob string // empty when the path did not exist at FromSHA
	NewBlob string // empty when the path was removed at ToSHA
}

// Watcher polls branch heads for a set of repositories.
type Watcher struct {
	api       reposAPI
	db        *gorm.DB
	repos     []string
	branch    string
	watchPath string
	log       *log.Logger
}

// WatcherOpts holds parameters for creating a Watcher.
type WatcherOpts struct {
	Token     string
	Repos     []string // owner/repo
	Branch    string   // default "main"
	WatchPath string   // default ".checksum"
	DB        *gorm.DB
	Logger    *log.Logger
	API       reposAPI // for testing; nil uses the GitHub REST API
}

// New creates a Watcher.
func New(opts WatcherOpts) (*Watcher, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("repowatch: db is required")
	}
	for _, r := range opts.Repos {
		if _, _, err := splitRepo(r); err != nil {
			return nil, err
		}
	}
	w := &Watcher{
		api:       opts.API,
		db:        opts.DB,
		repos:     opts.Repos,
		branch:    opts.Branch,
		watchPath: strings.Trim(opts.WatchPath, "/"),
		log:       opts.Logger,
	}
	if w.branch == "" {
		w.branch = "main"
	}
	if w.watchPath == "" {
		w.watchPath = ".checksum"
	}
	if w.log == nil {
		w.log = log.Default()
	}
	w.log = w.log.WithPrefix("repowatch")
	if w.api == nil {
		if opts.Token == "" {
			return nil, fmt.Errorf("repowatch: token is required")
		}
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
		w.api = github.NewClient(oauth2.NewClient(context.Background(), ts)).Repositories
	}
	return w, nil
}

// Check polls every repository once. A failing repository is logged and
// does not stop the others; failures are returned joined.
func (w *Watcher) Check(ctx context.Context) ([]Change, error) {
	var changes []Change
	var errs []error
	for _, name := range w.repos {
		if err := ctx.Err(); err != nil {
			return changes, err
		}
		ch, err := w.checkRepo(ctx, name)
		if err != nil {
			w.log.Error("check failed", "repo", name, "err", err)
			errs = append(errs, err)
			continue
		}
		if ch != nil {
			changes = append(changes, *ch)
		}
	}
	return changes, errors.Join(errs...)
}

// Run adapts Check to a scheduled job.
func (w *Watcher) Run(ctx context.Context) error {
	_, err := w.Check(ctx)
	return err
}

func (w *Watcher) checkRepo(ctx context.Context, name string) (*Change, error) {
	owner, repo, _ := splitRepo(name)

	branch, _, err := w.api.GetBranch(ctx, owner, repo, w.branch, 1)
	if err != nil {
		return nil, fmt.Errorf("repowatch: get branch %s@%s: %w", name, w.branch, err)
	}
	head := branch.GetCommit().GetSHA()
	if head == "" {
		return nil, fmt.Errorf("repowatch: branch %s@%s has no head commit", name, w.branch)
	}

	previous, ok, err := LastSHA(w.db, name)
	if err != nil {
		return nil, err
	}
	if !ok || previous == "" {
		w.log.Info("tracking repository", "repo", name, "sha", head)
		return nil, SetLastSHA(w.db, name, head)
	}
	if previous == head {
		return nil, nil
	}

	oldBlob, err := w.pathSHA(ctx, owner, repo, previous)
	if err != nil {
		return nil, err
	}
	newBlob, err := w.pathSHA(ctx, owner, repo, head)
	if err != nil {
		return nil, err
	}
	if err := SetLastSHA(w.db, name, head); err != nil {
		return nil, err
	}
	if oldBlob == newBlob {
		w.log.Debug("head moved, watched path unchanged", "repo", name, "from", previous, "to", head)
		return nil, nil
	}
	w.log.Info("watched path changed", "repo", name, "path", w.watchPath, "from", previous, "to", head)
	return &Change{Repo: name, FromSHA: previous, ToSHA: head, OldBlob: oldBlob, NewBlob: newBlob}, nil
}

// pathSHA returns the git object SHA of the watched path at ref, or "" when
// the path does not exist. The path is looked up in its parent directory
// listing so that both files and directories resolve to a single SHA.
func (w *Watcher) pathSHA(ctx context.Context, owner, repo, ref string) (string, error) {
	dir := path.Dir(w.watchPath)
	if dir == "." {
		dir = ""
	}
	opts := &github.RepositoryContentGetOptions{Ref: ref}
	_, entries, resp, err := w.api.GetContents(ctx, owner, repo, dir, opts)
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("repowatch: list %s/%s:%s at %s: %w", owner, repo, dir, ref, err)
	}
	for _, e := range entries {
		if e.GetPath() == w.watchPath {
			return e.GetSHA(), nil
		}
	}
	return "", nil
}

// LastSHA returns the last processed head for a repository.
func LastSHA(db *gorm.DB, name string) (sha string, ok bool, err error) {
	var r models.CustomerRepo
	err = db.Where("name = ?", name).First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("repowatch: last sha %s: %w", name, err)
	}
	return r.LastSHA, true, nil
}

// SetLastSHA records sha as the last processed head for a repository.
func SetLastSHA(db *gorm.DB, name, sha string) error {
	r := models.CustomerRepo{Name: name, LastSHA: sha}
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_sha", "updated_at"}),
	}).Create(&r).Error
	if err != nil {
		return fmt.Errorf("repowatch: set last sha %s: %w", name, err)
	}
	return nil
}

func splitRepo(name string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(name, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("repowatch: repository %q must be owner/repo", name)
	}
	return owner, repo, nil
}
