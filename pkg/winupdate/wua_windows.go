//go:build windows

package winupdate

import (
	"errors"
	"fmt"
	"runtime"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
)

// sFalse is returned by CoInitializeEx when COM is already initialized on
// the thread.
const sFalse = 0x00000001

// NewAgent returns the Windows Update Agent COM client.
func NewAgent() Agent { return comAgent{} }

type comAgent struct{}

// OpenSession pins the goroutine to its thread and initializes COM for the
// lifetime of the session; Release undoes both.
func (comAgent) OpenSession() (Session, error) {
	runtime.LockOSThread()
	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		var oleErr *ole.OleError
		if !errors.As(err, &oleErr) || (oleErr.Code() != ole.S_OK && oleErr.Code() != sFalse) {
			runtime.UnlockOSThread()
			return nil, fmt.Errorf("initialize COM: %w", err)
		}
	}

	disp, err := createDispatch("Microsoft.Update.Session")
	if err != nil {
		ole.CoUninitialize()
		runtime.UnlockOSThread()
		return nil, err
	}
	return &comSession{disp: disp}, nil
}

func createDispatch(progID string) (*ole.IDispatch, error) {
	unknown, err := oleutil.CreateObject(progID)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", progID, err)
	}
	defer unknown.Release()
	disp, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", progID, err)
	}
	return disp, nil
}

func callDispatch(disp *ole.IDispatch, method string, params ...interface{}) (*ole.IDispatch, error) {
	v, err := oleutil.CallMethod(disp, method, params...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	d := v.ToIDispatch()
	if d == nil {
		return nil, fmt.Errorf("%s returned no object", method)
	}
	return d, nil
}

func getDispatch(disp *ole.IDispatch, name string, params ...interface{}) (*ole.IDispatch, error) {
	v, err := oleutil.GetProperty(disp, name, params...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	d := v.ToIDispatch()
	if d == nil {
		return nil, fmt.Errorf("%s returned no object", name)
	}
	return d, nil
}

func getBool(disp *ole.IDispatch, name string) (bool, error) {
	v, err := oleutil.GetProperty(disp, name)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	defer v.Clear()
	b, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%s is not a boolean", name)
	}
	return b, nil
}

func getInt(disp *ole.IDispatch, name string) (int, error) {
	v, err := oleutil.GetProperty(disp, name)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	defer v.Clear()
	return int(v.Val), nil
}

type comSession struct {
	disp *ole.IDispatch
}

func (s *comSession) Release() {
	s.disp.Release()
	ole.CoUninitialize()
	runtime.UnlockOSThread()
}

func (s *comSession) NewSearcher() (Searcher, error) {
	d, err := callDispatch(s.disp, "CreateUpdateSearcher")
	if err != nil {
		return nil, err
	}
	return &comSearcher{disp: d}, nil
}

func (s *comSession) NewCollection() (Collection, error) {
	d, err := createDispatch("Microsoft.Update.UpdateColl")
	if err != nil {
		return nil, err
	}
	return &comCollection{disp: d}, nil
}

func (s *comSession) Download(updates Collection) error {
	coll, ok := updates.(*comCollection)
	if !ok {
		return fmt.Errorf("foreign collection %T", updates)
	}
	downloader, err := callDispatch(s.disp, "CreateUpdateDownloader")
	if err != nil {
		return err
	}
	defer downloader.Release()

	if _, err := oleutil.PutProperty(downloader, "Updates", coll.disp); err != nil {
		return fmt.Errorf("Updates: %w", err)
	}
	result, err := callDispatch(downloader, "Download")
	if err != nil {
		return err
	}
	defer result.Release()
	return checkResult(result)
}

func (s *comSession) Install(updates Collection) (bool, error) {
	coll, ok := updates.(*comCollection)
	if !ok {
		return false, fmt.Errorf("foreign collection %T", updates)
	}
	installer, err := callDispatch(s.disp, "CreateUpdateInstaller")
	if err != nil {
		return false, err
	}
	defer installer.Release()

	if _, err := oleutil.PutProperty(installer, "Updates", coll.disp); err != nil {
		return false, fmt.Errorf("Updates: %w", err)
	}
	result, err := callDispatch(installer, "Install")
	if err != nil {
		return false, err
	}
	defer result.Release()
	if err := checkResult(result); err != nil {
		return false, err
	}
	return getBool(result, "RebootRequired")
}

// OperationResultCode values of the Windows Update Agent.
const (
	orcSucceeded           = 2
	orcSucceededWithErrors = 3
)

func checkResult(result *ole.IDispatch) error {
	code, err := getInt(result, "ResultCode")
	if err != nil {
		return err
	}
	if code != orcSucceeded && code != orcSucceededWithErrors {
		return fmt.Errorf("operation failed with result code %d", code)
	}
	return nil
}

type comSearcher struct {
	disp *ole.IDispatch
}

func (s *comSearcher) Release() { s.disp.Release() }

func (s *comSearcher) Search(criteria string) ([]Update, error) {
	result, err := callDispatch(s.disp, "Search", criteria)
	if err != nil {
		return nil, err
	}
	defer result.Release()

	list, err := getDispatch(result, "Updates")
	if err != nil {
		return nil, err
	}
	defer list.Release()

	count, err := getInt(list, "Count")
	if err != nil {
		return nil, err
	}
	updates := make([]Update, 0, count)
	for i := 0; i < count; i++ {
		item, err := getDispatch(list, "Item", i)
		if err != nil {
			return updates, err
		}
		updates = append(updates, &comUpdate{disp: item})
	}
	return updates, nil
}

type comUpdate struct {
	disp *ole.IDispatch
}

func (u *comUpdate) Release() { u.disp.Release() }

func (u *comUpdate) Title() string {
	v, err := oleutil.GetProperty(u.disp, "Title")
	if err != nil {
		return "(unknown)"
	}
	defer v.Clear()
	return v.ToString()
}

func (u *comUpdate) EulaAccepted() (bool, error) { return getBool(u.disp, "EulaAccepted") }
func (u *comUpdate) IsDownloaded() (bool, error) { return getBool(u.disp, "IsDownloaded") }

func (u *comUpdate) AcceptEula() error {
	if _, err := oleutil.CallMethod(u.disp, "AcceptEula"); err != nil {
		return fmt.Errorf("AcceptEula: %w", err)
	}
	return nil
}

type comCollection struct {
	disp *ole.IDispatch
}

func (c *comCollection) Release() { c.disp.Release() }

func (c *comCollection) Add(u Update) error {
	cu, ok := u.(*comUpdate)
	if !ok {
		return fmt.Errorf("foreign update %T", u)
	}
	if _, err := oleutil.CallMethod(c.disp, "Add", cu.disp); err != nil {
		return fmt.Errorf("Add: %w", err)
	}
	return nil
}

func (c *comCollection) Count() int {
	n, err := getInt(c.disp, "Count")
	if err != nil {
		return 0
	}
	return n
}
