package winupdate

import (
	"context"
	"fmt"

	"github.com/windowsadmins/patchrun/pkg/logging"
)

// SearchCriteria selects updates that are neither installed nor hidden.
const SearchCriteria = "IsInstalled=0 and IsHidden=0"

// Handle is a native object that must be released exactly once.
type Handle interface {
	Release()
}

// Agent opens update sessions.
type Agent interface {
	OpenSession() (Session, error)
}

// Session is an update session. Download and Install operate on a batch.
type Session interface {
	Handle
	NewSearcher() (Searcher, error)
	NewCollection() (Collection, error)
	Download(updates Collection) error
	Install(updates Collection) (rebootRequired bool, err error)
}

// Searcher finds updates.
type Searcher interface {
	Handle
	Search(criteria string) ([]Update, error)
}

// Update is one update returned by a search.
type Update interface {
	Handle
	Title() string
	EulaAccepted() (bool, error)
	AcceptEula() error
	IsDownloaded() (bool, error)
}

// Collection is a batch of updates.
type Collection interface {
	Handle
	Add(u Update) error
	Count() int
}

// LowLevel applies updates through an Agent.
type LowLevel struct {
	agent Agent
	log   *logging.Logger
}

// NewLowLevel returns the fallback path over agent.
func NewLowLevel(agent Agent, log *logging.Logger) *LowLevel {
	return &LowLevel{agent: agent, log: log}
}

// Apply searches, downloads and installs every applicable update and
// reports the installer's reboot flag. Every handle it acquires is
// released before it returns.
func (l *LowLevel) Apply(ctx context.Context) (bool, error) {
	if l.agent == nil {
		return false, fmt.Errorf("no update agent")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	session, err := l.agent.OpenSession()
	if err != nil {
		return false, fmt.Errorf("open update session: %w", err)
	}
	defer session.Release()

	searcher, err := session.NewSearcher()
	if err != nil {
		return false, fmt.Errorf("create update searcher: %w", err)
	}
	defer searcher.Release()

	l.log.Info("Searching for updates", "criteria", SearchCriteria)
	updates, err := searcher.Search(SearchCriteria)
	defer func() {
		for _, u := range updates {
			u.Release()
		}
	}()
	if err != nil {
		return false, fmt.Errorf("search for updates: %w", err)
	}
	if len(updates) == 0 {
		l.log.Success("No pending Windows updates")
		return false, nil
	}
	l.log.Info("Windows updates found", "count", len(updates))

	download, err := session.NewCollection()
	if err != nil {
		return false, fmt.Errorf("create download collection: %w", err)
	}
	defer download.Release()

	for _, u := range updates {
		l.log.Info("Pending update", "title", u.Title())
		accepted, err := u.EulaAccepted()
		if err != nil {
			return false, fmt.Errorf("read license state of %q: %w", u.Title(), err)
		}
		if !accepted {
			if err := u.AcceptEula(); err != nil {
				return false, fmt.Errorf("accept license of %q: %w", u.Title(), err)
			}
		}
		downloaded, err := u.IsDownloaded()
		if err != nil {
			return false, fmt.Errorf("read download state of %q: %w", u.Title(), err)
		}
		if !downloaded {
			if err := download.Add(u); err != nil {
				return false, fmt.Errorf("queue %q for download: %w", u.Title(), err)
			}
		}
	}

	if download.Count() > 0 {
		l.log.Info("Downloading updates", "count", download.Count())
		if err := session.Download(download); err != nil {
			return false, fmt.Errorf("download updates: %w", err)
		}
	}

	install, err := session.NewCollection()
	if err != nil {
		return false, fmt.Errorf("create install collection: %w", err)
	}
	defer install.Release()

	for _, u := range updates {
		downloaded, err := u.IsDownloaded()
		if err != nil {
			return false, fmt.Errorf("read download state of %q: %w", u.Title(), err)
		}
		if downloaded {
			if err := install.Add(u); err != nil {
				return false, fmt.Errorf("queue %q for install: %w", u.Title(), err)
			}
		}
	}
	if install.Count() == 0 {
		l.log.Warn("No updates were downloaded, nothing to install")
		return false, nil
	}

	l.log.Info("Installing updates", "count", install.Count())
	rebootRequired, err := session.Install(install)
	if err != nil {
		return false, fmt.Errorf("install updates: %w", err)
	}
	l.log.Success("Windows updates installed", "reboot_required", rebootRequired)
	return rebootRequired, nil
}
