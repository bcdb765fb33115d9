// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information.

package process

import (
	"flag"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/zeebo/errs"
	yaml "gopkg.in/yaml.v2"
)

// SaveConfig will save only the user-specific flags with default values to
// outfile with specific values specified in 'overrides' overridden. Every
// other setting is written as a comment so the file documents the defaults.
func SaveConfig(cmd *cobra.Command, outfile string, overrides map[string]interface{}) error {
	flags := cmd.Flags()
	vip, err := Viper(cmd)
	if err != nil {
		return errs.Wrap(err)
	}

	// merge in the overrides and grab the settings.
	if err := vip.MergeConfigMap(overrides); err != nil {
		return errs.Wrap(err)
	}

	keys := vip.AllKeys()
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		_, overrideExists := overrides[key]
		changed, setup, hidden, user := false, false, false, false
		usage := ""
		if f := flags.Lookup(key); f != nil {
			changed = f.Changed
			setup = readBoolAnnotation(f, "setup")
			hidden = f.Hidden || readBoolAnnotation(f, "hidden")
			user = readBoolAnnotation(f, "user")
			usage = f.Usage
		} else if f := flag.Lookup(key); f != nil {
			changed = f.Value.String() != f.DefValue
			usage = f.Usage
		} else {
			continue
		}

		// setup and hidden settings are never stored.
		if setup || hidden || key == "config-dir" {
			continue
		}

		data, err := yaml.Marshal(map[string]interface{}{key: vip.Get(key)})
		if err != nil {
			return errs.Wrap(err)
		}

		if usage != "" {
			b.WriteString("# " + usage + "\n")
		}
		if !user && !changed && !overrideExists {
			b.WriteString("# ")
		}
		b.Write(data)
		b.WriteString("\n")
	}

	return errs.Wrap(atomicWrite(outfile, 0600, []byte(b.String())))
}

// readBoolAnnotation is a helper to see if a boolean annotation is set to true on the flag.
func readBoolAnnotation(flag *pflag.Flag, key string) bool {
	annotation := flag.Annotations[key]
	return len(annotation) > 0 && annotation[0] == "true"
}

// atomicWrite is a helper to atomically write the data to the outfile.
func atomicWrite(outfile string, mode os.FileMode, data []byte) (err error) {
	fh, err := os.CreateTemp(filepath.Dir(outfile), filepath.Base(outfile))
	if err != nil {
		return errs.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = errs.Combine(err, fh.Close())
			err = errs.Combine(err, os.Remove(fh.Name()))
		}
	}()
	if _, err := fh.Write(data); err != nil {
		return errs.Wrap(err)
	}
	if err := fh.Chmod(mode); err != nil {
		return errs.Wrap(err)
	}
	if err := fh.Sync(); err != nil {
		return errs.Wrap(err)
	}
	if err := fh.Close(); err != nil {
		return errs.Wrap(err)
	}
	if err := os.Rename(fh.Name(), outfile); err != nil {
		return errs.Wrap(err)
	}
	return nil
}
