// Package config loads roomverse.json and applies environment variable
// overrides. File values are overridden by ROOMVERSE_* variables, so a
// deployment can keep secrets like the admin password out of the file.
package config
