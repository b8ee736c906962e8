package version

import "fmt"

// validCharacters is a list of characters valid in the appBuild string
const validCharacters = "0123456789abcdefghijklmnopqrstuvwxyz-"

const (
	appMajor uint = 2
	appMinor uint = 2
	appPatch uint = 0
)

// appBuild is defined as a variable so it can be overridden during the build
// process with '-ldflags "-X github.com/Menutra/Cache-Cash/version.appBuild=foo"'
// if needed. It MUST only contain characters from validCharacters.
var appBuild string

var version = "" // string used for memoization of version

// Version returns the application version as a properly formed string
func Version() string {
	if version == "" {
		// Start with the major, minor, and patch versions.
		version = fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)

		// Append build metadata if there is any.
		if appBuild != "" {
			checkAppBuild(appBuild)
			version = fmt.Sprintf("%s-%s", version, appBuild)
		}
	}
	return version
}

// checkAppBuild verifies the build string only contains valid characters.
func checkAppBuild(appBuild string) {
	for _, r := range appBuild {
		isValid := false
		for _, valid := range validCharacters {
			if r == valid {
				isValid = true
				break
			}
		}
		if !isValid {
			panic(fmt.Errorf("appBuild string (%s) contains forbidden characters", appBuild))
		}
	}
}
