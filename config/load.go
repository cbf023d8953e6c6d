package config

import (
	"context"
	_ "embed"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cueyaml "cuelang.org/go/encoding/yaml"
	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/core"
)

//go:embed schema.cue
var schemaSource []byte

const schemaDefinition = "#Config"

// Load reads the configuration at path from fsys, validates it against the
// schema and decodes it. Files ending in .yaml or .yml are read as YAML and
// everything else as CUE.
//
// Returns CodeCUELoadFailed when the file cannot be read, CodeCUEBuildFailed
// when it does not compile, CodeCUEValidationFailed when it does not match the
// schema, CodeCUEDecodeFailed when decoding fails and CodeInvalidConfig when
// the decoded values are inconsistent.
func Load(ctx context.Context, fsys core.ReadFS, path string) (Config, error) {
	if err := ctx.Err(); err != nil {
		return Config{}, errors.Wrap(err, errors.CodeCUELoadFailed, "context cancelled")
	}

	source, err := fsys.ReadFile(path)
	if err != nil {
		return Config{}, errors.WithContext(
			errors.Wrap(err, errors.CodeCUELoadFailed, "failed to read config file"),
			"file_path", path,
		)
	}

	return Parse(ctx, source, path)
}

// Parse validates and decodes configuration source. filename selects the
// source format by extension and is used in error messages.
func Parse(ctx context.Context, source []byte, filename string) (Config, error) {
	if err := ctx.Err(); err != nil {
		return Config{}, errors.Wrap(err, errors.CodeCUEBuildFailed, "context cancelled")
	}
	if filename == "" {
		filename = "<input>"
	}

	cueCtx := cuecontext.New()

	schema := cueCtx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, errors.Wrap(err, errors.CodeInternal, "embedded config schema is invalid")
	}

	data, err := compile(cueCtx, source, filename)
	if err == nil {
		err = data.Err()
	}
	if err != nil {
		return Config{}, errors.WrapWithContext(err, errors.CodeCUEBuildFailed, "failed to compile config", map[string]interface{}{
			"file_path": filename,
			"details":   cueerrors.Details(err, nil),
		})
	}

	unified := schema.LookupPath(cue.ParsePath(schemaDefinition)).Unify(data)
	if err := unified.Validate(cue.Concrete(true), cue.Final(), cue.All()); err != nil {
		return Config{}, errors.WrapWithContext(err, errors.CodeCUEValidationFailed, "config does not match schema", map[string]interface{}{
			"file_path": filename,
			"details":   cueerrors.Details(err, nil),
		})
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return Config{}, errors.WithContext(
			errors.Wrap(err, errors.CodeCUEDecodeFailed, "failed to decode config"),
			"file_path", filename,
		)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.WithContext(err, "file_path", filename)
	}

	return cfg, nil
}

func isYAML(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func compile(cueCtx *cue.Context, source []byte, filename string) (cue.Value, error) {
	if !isYAML(filename) {
		return cueCtx.CompileBytes(source, cue.Filename(filename)), nil
	}

	file, err := cueyaml.Extract(filename, source)
	if err != nil {
		return cue.Value{}, err
	}
	return cueCtx.BuildFile(file, cue.Filename(filename)), nil
}
