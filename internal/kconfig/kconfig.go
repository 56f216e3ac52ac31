// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package kconfig is the kernel's configuration surface, generalizing the
// teacher's cfg package: pflag-bound cobra flags, resolved through viper
// (env vars and an optional config file), decoded into a typed Config via
// mapstructure with one custom decode hook (octalHook).
package kconfig

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Octal is an integer parsed from a string in base 8, e.g. a permission
// bit-mask supplied on the command line.
type Octal int

// Config is the kernel's fully resolved configuration.
type Config struct {
	Device DeviceConfig `mapstructure:"device"`
	Log    LogConfig    `mapstructure:"log"`
	Cache  CacheConfig  `mapstructure:"cache"`
}

type DeviceConfig struct {
	// NativeDiskPath is decoded but not read by kernel.Start: the native
	// filesystem always sits on an in-memory disk.
	NativeDiskPath string `mapstructure:"native-disk-path"`
	// NativeDiskBlocks sizes a fresh in-memory native disk.
	NativeDiskBlocks uint32 `mapstructure:"native-disk-blocks"`
	// NativeInodes sizes the native filesystem's fixed inode table.
	NativeInodes uint32 `mapstructure:"native-inodes"`
	// LogBlocks is decoded but not read: the write-ahead log's size is the
	// fixed walog.LogSize.
	LogBlocks uint32 `mapstructure:"log-blocks"`
	// RootMode selects which backend is mounted at "/": "native" or "obj".
	RootMode string `mapstructure:"root-mode"`
}

type LogConfig struct {
	Format     string `mapstructure:"format"`
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file-path"`
	MaxSizeMB  int    `mapstructure:"max-size-mb"`
	MaxBackups int    `mapstructure:"max-backups"`
	MaxAgeDays int    `mapstructure:"max-age-days"`
}

type CacheConfig struct {
	// BufBuffers sizes the shared buffer cache (spec.md §4.2's NBUF).
	BufBuffers int `mapstructure:"buf-buffers"`
	// ObjPadding is decoded but not read: the object cache's padding window
	// is the fixed objcache.Padding.
	ObjPadding uint32 `mapstructure:"obj-padding"`
}

// BindFlags registers every flag on flagSet and binds it into viper under
// the matching dotted key, mirroring the teacher's generated BindFlags.
func BindFlags(flagSet *pflag.FlagSet) error {
	bind := func(key string, bindErr *error) {
		if *bindErr != nil {
			return
		}
		*bindErr = viper.BindPFlag(key, flagSet.Lookup(key))
	}

	flagSet.String("device.native-disk-path", "", "Not read by the kernel; the native disk is always in-memory.")
	flagSet.Uint32("device.native-disk-blocks", 8192, "Size of a fresh in-memory native disk, in blocks.")
	flagSet.Uint32("device.native-inodes", 200, "Number of inodes in the native filesystem's fixed inode table.")
	flagSet.Uint32("device.log-blocks", 64, "Not read by the kernel; the write-ahead log has a fixed size.")
	flagSet.String("device.root-mode", "native", `Backend mounted at "/": "native" or "obj".`)

	flagSet.String("log.format", "text", `Log output format: "text" or "json".`)
	flagSet.String("log.level", "info", "Minimum severity logged: trace/debug/info/warning/error.")
	flagSet.String("log.file-path", "", "Path to a log file; empty means stderr.")
	flagSet.Int("log.max-size-mb", 100, "Log file rotation size, in megabytes.")
	flagSet.Int("log.max-backups", 5, "Number of rotated log files to retain.")
	flagSet.Int("log.max-age-days", 28, "Maximum age of a rotated log file, in days.")

	flagSet.Int("cache.buf-buffers", 64, "Number of buffers in the shared buffer cache.")
	flagSet.Uint32("cache.obj-padding", 4, "Not read by the kernel; the object cache padding window is fixed.")

	var err error
	for _, key := range []string{
		"device.native-disk-path", "device.native-disk-blocks", "device.native-inodes",
		"device.log-blocks", "device.root-mode",
		"log.format", "log.level", "log.file-path", "log.max-size-mb", "log.max-backups", "log.max-age-days",
		"cache.buf-buffers", "cache.obj-padding",
	} {
		bind(key, &err)
	}
	return err
}

func octalHook() mapstructure.DecodeHookFuncType {
	return func(f, t reflect.Type, data interface{}) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(Octal(0)) {
			return data, nil
		}
		s := data.(string)
		if s == "" {
			return Octal(0), nil
		}
		v, err := strconv.ParseInt(strings.TrimPrefix(s, "0"), 8, 32)
		if err != nil {
			return nil, fmt.Errorf("kconfig: invalid octal value %q: %w", s, err)
		}
		return Octal(v), nil
	}
}

// Decode resolves viper's merged flag/env/file settings into a Config.
func Decode() (*Config, error) {
	var c Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(octalHook()),
		Result:     &c,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(viper.AllSettings()); err != nil {
		return nil, fmt.Errorf("kconfig: decode: %w", err)
	}
	return &c, nil
}
