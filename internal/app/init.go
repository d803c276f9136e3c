package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/petervdpas/goopforum/internal/config"
	"github.com/petervdpas/goopforum/internal/roomcrypto"
)

type InitOptions struct {
	Dir string

	// Identity is the deployment's age identity. Empty generates a new one;
	// every sibling instance must then be given the same value.
	Identity string

	// Prompt, when set, runs the interactive setup on In/Out.
	Prompt bool
	In     io.Reader
	Out    io.Writer
}

// Init creates the instance folder and its config file. An existing config
// is left as is unless Prompt is set.
func Init(opt InitOptions) (string, config.Config, error) {
	if err := os.MkdirAll(opt.Dir, 0o755); err != nil {
		return "", config.Config{}, fmt.Errorf("create instance dir: %w", err)
	}
	cfgPath := filepath.Join(opt.Dir, config.FileName)

	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		return "", config.Config{}, err
	}
	changed := false

	if opt.Identity != "" {
		cfg.Crypto.DeploymentIdentity = opt.Identity
		changed = true
	} else if created && cfg.Crypto.DeploymentIdentity == "" {
		id, err := roomcrypto.GenerateDeploymentIdentity()
		if err != nil {
			return "", config.Config{}, fmt.Errorf("generate deployment identity: %w", err)
		}
		cfg.Crypto.DeploymentIdentity = id
		changed = true
	}

	if opt.Prompt {
		cfg = PromptInteractive(opt.In, opt.Out, opt.Dir, cfgPath, cfg)
		changed = true
	}

	if changed {
		if err := config.Save(cfgPath, cfg); err != nil {
			return "", config.Config{}, err
		}
	}
	return cfgPath, cfg, nil
}
