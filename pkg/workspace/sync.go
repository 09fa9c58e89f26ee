package workspace

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/patternmatcher"
)

// syncHostConfig copies the operator's agent configuration into the
// workspace config home. Paths matching exclude are skipped. JSON files have
// every provider base URL pointed at the workspace relay.
func (p *Provisioner) syncHostConfig(w *Workspace) error {
	src := p.opts.HostConfigDir
	if src == "" {
		return nil
	}
	info, err := os.Stat(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat host config %s: %w", src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("host config %s is not a directory", src)
	}

	pm, err := patternmatcher.New(p.opts.SyncExclude)
	if err != nil {
		return fmt.Errorf("invalid sync exclude patterns: %w", err)
	}

	dst := filepath.Join(w.ConfigHome, filepath.Base(src))
	copied := 0
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(dst, 0o755)
		}

		excluded, err := pm.MatchesOrParentMatches(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		if excluded {
			p.logger.WithField("path", rel).Debug("Skipping excluded host config entry")
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type()&fs.ModeSymlink != 0:
			// Links can point outside the host config dir.
			return nil
		case !d.Type().IsRegular():
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if strings.HasSuffix(path, ".json") {
			if rewritten, ok := p.rewriteBaseURLs(data, w.Port); ok {
				data = rewritten
			} else {
				p.logger.WithField("path", rel).Warn("Host config JSON not parseable, copied unchanged")
			}
		}
		copied++
		return writeFileAtomic(target, data, 0o644)
	})
	if err != nil {
		return fmt.Errorf("sync host config: %w", err)
	}

	p.logger.WithField("files", copied).WithField("folder", w.Folder).Debug("Host config synchronized")
	return nil
}

// rewriteBaseURLs sets provider.<name>.options.baseURL to the relay route
// for every provider the document configures and every provider the proxy
// knows. The second result is false when data is not a JSON object.
func (p *Provisioner) rewriteBaseURLs(data []byte, port int) ([]byte, bool) {
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false
	}

	section, _ := doc["provider"].(map[string]interface{})
	if section == nil {
		// Only agent config files carry a provider section.
		return data, true
	}

	names := make(map[string]bool)
	for name := range section {
		names[name] = true
	}
	for _, prov := range p.providers {
		names[prov.Name] = true
	}

	for name := range names {
		entry, _ := section[name].(map[string]interface{})
		if entry == nil {
			entry = make(map[string]interface{})
		}
		options, _ := entry["options"].(map[string]interface{})
		if options == nil {
			options = make(map[string]interface{})
		}
		options["baseURL"] = RelayURL(port, name)
		entry["options"] = options
		section[name] = entry
	}
	doc["provider"] = section

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, false
	}
	return append(out, '\n'), true
}

// relaxPermissions opens the workspace to the sandboxed user: directories
// become 0777 and files gain 0666.
func relaxPermissions(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if d.IsDir() {
			return os.Chmod(path, 0o777)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return os.Chmod(path, info.Mode().Perm()|0o666)
	})
}
