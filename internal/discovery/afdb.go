package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"foldwarden/internal/apperrors"
)

type afdbEntry struct {
	PDBURL string `json:"pdbUrl"`
}

// ReferenceStructure downloads the wild-type predicted structure for an
// accession into dir and returns its path. Downloads are cached by file
// name, so repeat runs for the same protein skip the fetch.
func (c *Client) ReferenceStructure(ctx context.Context, accession, dir string) (string, error) {
	dest := filepath.Join(dir, accession+"_wild_type.pdb")
	if _, err := os.Stat(dest); err == nil {
		c.logger.Debug("Using cached wild-type structure", "path", dest)
		return dest, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var entries []afdbEntry
	err := c.api.GetJSON(lookupCtx, fmt.Sprintf("%s/api/prediction/%s", c.afdbBase, accession), &entries)
	if err != nil {
		return "", fmt.Errorf("AlphaFold DB lookup for %s failed: %w", accession, err)
	}
	if len(entries) == 0 || entries[0].PDBURL == "" {
		return "", apperrors.NotFound("reference structure", accession)
	}

	dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	body, err := c.api.Get(dlCtx, entries[0].PDBURL)
	if err != nil {
		return "", fmt.Errorf("failed to download wild-type structure for %s: %w", accession, err)
	}
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return "", fmt.Errorf("failed to save wild-type structure: %w", err)
	}

	c.logger.Info("Wild-type structure downloaded",
		"accession", accession,
		"path", dest,
		"bytes", len(body))
	return dest, nil
}
