package chocolatey

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/windowsadmins/patchrun/pkg/logging"
	"github.com/windowsadmins/patchrun/pkg/powershell"
	"github.com/windowsadmins/patchrun/pkg/retry"
)

// DefaultInstallURL is the vendor's install script.
const DefaultInstallURL = "https://community.chocolatey.org/install.ps1"

// maxScriptSize bounds the downloaded script.
const maxScriptSize = 4 << 20

// ScriptInstaller installs Chocolatey by downloading the vendor script over
// TLS 1.2 or newer and running it with PowerShell.
type ScriptInstaller struct {
	URL         string
	Client      *http.Client
	Shell       powershell.Shell
	Retry       retry.RetryConfig
	RefreshPath func() error

	tempDir string
	log     *logging.Logger
}

// NewScriptInstaller returns an installer for url (DefaultInstallURL when
// empty) that runs the script with shell.
func NewScriptInstaller(url string, shell powershell.Shell, log *logging.Logger) *ScriptInstaller {
	if url == "" {
		url = DefaultInstallURL
	}
	return &ScriptInstaller{
		URL: url,
		Client: &http.Client{
			Timeout: 2 * time.Minute,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
		Shell:       shell,
		Retry:       retry.RetryConfig{MaxRetries: 3, InitialInterval: 2 * time.Second, Multiplier: 2},
		RefreshPath: RefreshPath,
		log:         log,
	}
}

// Install downloads and runs the install script, then refreshes PATH for
// this process so the new choco.exe can be found.
func (i *ScriptInstaller) Install(ctx context.Context) error {
	if i.Shell == nil {
		return fmt.Errorf("install chocolatey: %w", powershell.ErrNotFound)
	}

	var script []byte
	err := retry.Retry(ctx, i.Retry, i.log, func() error {
		var err error
		script, err = i.download(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("download %s: %w", i.URL, err)
	}

	f, err := os.CreateTemp(i.tempDir, "install-chocolatey-*.ps1")
	if err != nil {
		return fmt.Errorf("create install script: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(script); err != nil {
		f.Close()
		return fmt.Errorf("write install script: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write install script: %w", err)
	}

	i.log.Info("Running Chocolatey install script", "url", i.URL)
	res, runErr := i.Shell.RunFile(ctx, f.Name())
	if res.Stdout != "" {
		i.log.Output("Chocolatey install output", res.Stdout)
	}
	if res.Stderr != "" {
		i.log.Output("Chocolatey install errors", res.Stderr)
	}
	if runErr != nil {
		return fmt.Errorf("run install script: %w", runErr)
	}

	if i.RefreshPath != nil {
		if err := i.RefreshPath(); err != nil {
			i.log.Warn("Failed to refresh PATH after install", "error", err)
		}
	}
	return nil
}

func (i *ScriptInstaller) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.URL, nil)
	if err != nil {
		return nil, retry.NonRetryableError{Err: err}
	}
	resp, err := i.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected HTTP status %s", resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, retry.NonRetryableError{Err: err}
		}
		return nil, err
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptSize))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty install script")
	}
	return data, nil
}
