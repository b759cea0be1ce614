package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/danmuck/cellwarden/internal/config"
	"github.com/danmuck/cellwarden/internal/logging"
	"github.com/danmuck/cellwarden/internal/wardend"
	"github.com/rs/zerolog/log"
)

const defaultConfigPath = "cmd/wardend/config.toml"

func main() {
	configPath := flag.String("config", "", "config path (defaults to "+defaultConfigPath+" when present)")
	validate := flag.Bool("validate", false, "strictly check the config and exit")
	writeConfig := flag.String("write-config", "", "write a config template for -root to this path and exit")
	root := flag.String("root", ".", "warden root whose catalog seeds -write-config")
	force := flag.Bool("force", false, "overwrite an existing -write-config target")
	flag.Parse()

	logging.ConfigureRuntime()

	if *writeConfig != "" {
		data, err := config.Template(*root)
		if err == nil {
			err = config.WriteTemplate(*writeConfig, data, *force)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "wardend: %v\n", err)
			os.Exit(1)
		}
		log.Info().Str("path", *writeConfig).Str("root", *root).Msg("wardend config template written")
		return
	}

	path, err := resolveConfigPath(*configPath)
	if err == nil && *validate && path != "" {
		err = config.Validate(path)
	}
	var cfg wardend.ServiceConfig
	if err == nil {
		cfg, err = loadConfig(path)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "wardend: %v\n", err)
		os.Exit(1)
	}
	if *validate {
		log.Info().Str("path", path).Str("root", cfg.Root).Int("cells", len(cfg.Cells)).Msg("wardend config valid")
		return
	}

	svc := wardend.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "wardend: %v\n", err)
		os.Exit(1)
	}
}

// resolveConfigPath returns "" when no path was given and the default file is absent.
func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if _, err := os.Stat(defaultConfigPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return defaultConfigPath, nil
}

func loadConfig(path string) (wardend.ServiceConfig, error) {
	if path == "" {
		return wardend.DefaultServiceConfig(), nil
	}
	return loadServiceConfig(path)
}
