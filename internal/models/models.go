// Package models installs NER model archives into the local models root.
// An installed model directory holds model.onnx, labels.json and
// tokenizer.json, plus a .checksum file recording the archive digest.
package models

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// DefaultModelName is the directory the NER detector loads by default.
const DefaultModelName = "ner_en"

var requiredFiles = []string{"model.onnx", "labels.json", "tokenizer.json"}

// ModelSpec identifies one archive to install. URL is an http(s) URL or a
// local path to a .tar.gz archive; Checksum is "sha256:<hex>".
type ModelSpec struct {
	Name     string
	URL      string
	Checksum string
}

func DefaultModelsRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".piimask", "models"), nil
}

func ModelInstallPath(root, name string) string {
	return filepath.Join(root, name)
}

func IsInstalled(dir string) bool {
	for _, f := range requiredFiles {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			return false
		}
	}
	return true
}

// InstalledChecksum returns the archive checksum recorded at install time.
func InstalledChecksum(dir string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(dir, ".checksum"))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// validateModelName rejects names that would not land directly under the
// models root.
func validateModelName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.New("model name is required")
	case name != filepath.Base(name), name == ".", name == "..", strings.HasPrefix(name, "."):
		return errors.Newf("invalid model name %q", name)
	}
	return nil
}

// CheckPersonLabels reads dir/labels.json and requires at least one PER or
// PERSON tag, with or without a B-/I- prefix.
func CheckPersonLabels(dir string) error {
	raw, err := os.ReadFile(filepath.Join(dir, "labels.json"))
	if err != nil {
		return errors.Wrap(err, "read labels.json")
	}
	var labels map[string]string
	if err := json.Unmarshal(raw, &labels); err != nil {
		return errors.Wrap(err, "parse labels.json")
	}
	for _, l := range labels {
		tag := strings.ToUpper(l)
		tag = strings.TrimPrefix(strings.TrimPrefix(tag, "B-"), "I-")
		if tag == "PER" || tag == "PERSON" {
			return nil
		}
	}
	return errors.Newf("labels.json has no person label among %d labels", len(labels))
}
