package homedir

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

func Get() string {
	h := os.Getenv("HOME")
	if h != "" {
		return h
	}

	usr, err := user.Current()
	if err != nil {
		panic(err)
	}
	return usr.HomeDir
}

// Path returns name joined to the home directory.
func Path(name string) string {
	return filepath.Join(Get(), name)
}

// Expand replaces a leading "~/" in p with the home directory.
func Expand(p string) string {
	if p == "~" {
		return Get()
	}
	if strings.HasPrefix(p, "~/") {
		return Path(p[2:])
	}
	return p
}
