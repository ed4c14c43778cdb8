// Package urlpolicy decides which pages cannot take part in scroll sync.
// Browser-internal pages and extension stores are always restricted; an
// optional operator file adds prefixes and patterns and is reloaded when it
// changes.
package urlpolicy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/ghodss/yaml"
)

// Rule restricts URLs by prefix or regular expression.
type Rule struct {
	Prefix  string `json:"prefix,omitempty"`
	Pattern string `json:"pattern,omitempty"`
	// Reason is shown to the user when the rule matches.
	Reason string `json:"reason,omitempty"`
}

// File is the operator policy file.
//
//	restricted:
//	  - prefix: https://intranet.example.com/
//	    reason: Intranet pages are excluded
//	  - pattern: ^https://[^/]+\.bank\.example/
type File struct {
	Restricted []Rule `json:"restricted"`
}

type compiledRule struct {
	prefix  string
	pattern *regexp.Regexp
	reason  string
}

func (r compiledRule) matches(rawURL string) bool {
	if r.pattern != nil {
		return r.pattern.MatchString(rawURL)
	}
	return strings.HasPrefix(strings.ToLower(rawURL), strings.ToLower(r.prefix))
}

var builtin = []compiledRule{
	{prefix: "chrome://", reason: "Browser pages cannot be synchronized"},
	{prefix: "chrome-extension://", reason: "Extension pages cannot be synchronized"},
	{prefix: "devtools://", reason: "Developer tools cannot be synchronized"},
	{prefix: "edge://", reason: "Browser pages cannot be synchronized"},
	{prefix: "view-source:", reason: "Source views cannot be synchronized"},
	{prefix: "https://chrome.google.com/webstore", reason: "Web store pages block extensions"},
	{prefix: "https://chromewebstore.google.com", reason: "Web store pages block extensions"},
	{prefix: "https://microsoftedge.microsoft.com/addons", reason: "Web store pages block extensions"},
}

// Policy is safe for concurrent use.
type Policy struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	rules []compiledRule
}

// New returns a policy with only the built-in rules.
func New(logger *slog.Logger) *Policy {
	return &Policy{logger: logger}
}

// Load reads the operator file at path on top of the built-in rules. An
// empty path yields the built-in policy.
func Load(path string, logger *slog.Logger) (*Policy, error) {
	p := New(logger)
	if path == "" {
		return p, nil
	}
	p.path = path
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// parse validates policy file contents and compiles its rules.
func parse(data []byte) ([]compiledRule, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	rules := make([]compiledRule, 0, len(f.Restricted))
	for i, r := range f.Restricted {
		reason := r.Reason
		if reason == "" {
			reason = "This page is excluded by policy"
		}
		switch {
		case r.Pattern != "":
			re, err := regexp.Compile(r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %d: invalid pattern: %w", i, err)
			}
			rules = append(rules, compiledRule{pattern: re, reason: reason})
		case r.Prefix != "":
			rules = append(rules, compiledRule{prefix: r.Prefix, reason: reason})
		default:
			return nil, fmt.Errorf("rule %d: prefix or pattern is required", i)
		}
	}
	return rules, nil
}

// Reload re-reads the operator file. A missing file clears the operator
// rules; a malformed one keeps the previous rules and returns an error.
func (p *Policy) Reload() error {
	if p.path == "" {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			p.set(nil)
			return nil
		}
		return fmt.Errorf("failed to read policy file: %w", err)
	}
	rules, err := parse(data)
	if err != nil {
		return err
	}
	p.set(rules)
	return nil
}

func (p *Policy) set(rules []compiledRule) {
	p.mu.Lock()
	p.rules = rules
	p.mu.Unlock()
	p.logger.Info("[urlpolicy] rules loaded", "path", p.path, "rules", len(rules))
}

// Restricted reports whether rawURL may not be injected, with a reason
// suitable for the user.
func (p *Policy) Restricted(rawURL string) (string, bool) {
	lower := strings.ToLower(rawURL)
	if strings.HasPrefix(lower, "about:") && lower != "about:blank" {
		return "Browser pages cannot be synchronized", true
	}
	for _, r := range builtin {
		if r.matches(rawURL) {
			return r.reason, true
		}
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, r := range p.rules {
		if r.matches(rawURL) {
			return r.reason, true
		}
	}
	return "", false
}

// Watch reloads the operator file whenever it changes until ctx is done.
// The parent directory is watched so editors that replace the file are
// followed.
func (p *Policy) Watch(ctx context.Context) error {
	if p.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	name := filepath.Clean(p.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := p.Reload(); err != nil {
				p.logger.Error("[urlpolicy] reload failed, keeping previous rules", "err", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Error("fsnotify error", "err", err)
		}
	}
}
