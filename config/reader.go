package config

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"

	"github.com/guidedgrasp/depthcloud/logging"
)

// Read reads a config from the given file. ${VAR} references are substituted from the
// environment before decoding.
func Read(filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	return FromReader(filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from. Fields missing
// from the input keep their default values.
func FromReader(originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	cfg := Default()
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to decode Config from json")
	}
	cfg.ConfigFilePath = originalPath

	if err := cfg.Validate("config"); err != nil {
		return nil, err
	}
	logger.Debugw("read config",
		"path", originalPath,
		"capacity", cfg.Capacity,
		"target_grid_points", cfg.TargetGridPoints,
		"orientation", cfg.Orientation.String())
	return &cfg, nil
}
