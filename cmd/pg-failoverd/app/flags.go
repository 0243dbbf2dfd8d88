package app

import "github.com/spf13/pflag"

// Flags holds the configuration path every subcommand accepts, bound
// through a raw pflag.FlagSet the way the teacher's own internal/cmd/manager
// Flags.AddFlags binds its logging flags directly against pflag rather than
// through cobra's StringVar wrapper.
type Flags struct {
	ConfigPath string
}

// AddFlags registers f's fields against flags.
func (f *Flags) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&f.ConfigPath, "config", "", "path to a YAML configuration file")
}
