package config

import (
	"fmt"
	"os"
	"path/filepath"

	"adforge/internal/util"
)

// defaultPromptDir is the subdirectory within the user's home directory.
const defaultPromptDir = ".config/adforge/prompts"

// LoadPromptContent resolves the path for a prompt template and reads its content.
// An empty configuredPath means "use the built-in template" and returns "".
// Absolute paths are read directly; relative ones are looked up inside
// ~/.config/adforge/prompts/. The content is cleaned with util.CleanText.
func LoadPromptContent(configuredPath string) (string, error) {
	if configuredPath == "" {
		return "", nil
	}

	finalPath := configuredPath
	if !filepath.IsAbs(configuredPath) {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		finalPath = filepath.Join(homeDir, defaultPromptDir, configuredPath)
	}

	promptBytes, err := os.ReadFile(finalPath)
	if err != nil {
		if os.IsNotExist(err) && !filepath.IsAbs(configuredPath) {
			return "", fmt.Errorf("prompt file not found at '%s'. Create it or use an absolute path in config.yaml: %w", finalPath, err)
		}
		return "", fmt.Errorf("failed to read prompt file '%s': %w", finalPath, err)
	}

	return util.CleanText(promptBytes, finalPath)
}
