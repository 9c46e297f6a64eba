package script

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Flavor names one of the interchangeable engine implementations (§4.7:
// "Multiple engine flavors are supported interchangeably").
type Flavor string

const (
	FlavorLua    Flavor = "lua"
	FlavorJS     Flavor = "js"
	FlavorPython Flavor = "python"
)

// FlavorForPath selects a Flavor from a script file's extension, the
// default selection mechanism alongside explicit configuration.
func FlavorForPath(path string) (Flavor, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lua":
		return FlavorLua, nil
	case ".js", ".mjs":
		return FlavorJS, nil
	case ".py":
		return FlavorPython, nil
	default:
		return "", fmt.Errorf("script: cannot infer engine flavor from %q", path)
	}
}
