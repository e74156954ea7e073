// pkg/version/version.go - build information for patchrun.

package version

import (
	"fmt"
	"runtime"
)

// These values are private which ensures they can only be set with the build flags.
var (
	version   = "unknown"
	branch    = "unknown"
	revision  = "unknown"
	buildDate = "unknown"
	appName   = "patchrun"
)

// Info is a structure with version build information about the current application.
type Info struct {
	AppName   string `json:"app_name" yaml:"app_name"`
	Version   string `json:"version" yaml:"version"`
	Branch    string `json:"branch" yaml:"branch"`
	Revision  string `json:"revision" yaml:"revision"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	BuildDate string `json:"build_date" yaml:"build_date"`
}

// Version returns a structure with the current version information.
func Version() Info {
	return Info{
		AppName:   appName,
		Version:   version,
		Branch:    branch,
		Revision:  revision,
		GoVersion: runtime.Version(),
		BuildDate: buildDate,
	}
}

// String renders the short "name version" form.
func (i Info) String() string {
	return fmt.Sprintf("%s %s", i.AppName, i.Version)
}

// Print outputs the application name and version string.
func Print() {
	fmt.Println(Version().String())
}

// PrintFull prints the application name and detailed version information.
func PrintFull() {
	v := Version()
	fmt.Println(v.String())
	fmt.Printf("  branch: \t%s\n", v.Branch)
	fmt.Printf("  revision: \t%s\n", v.Revision)
	fmt.Printf("  build date: \t%s\n", v.BuildDate)
	fmt.Printf("  go version: \t%s\n", v.GoVersion)
}
