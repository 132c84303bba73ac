package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/cogent/internal/memory"
)

// watchDebounce coalesces bursts of filesystem events; some platforms
// fire several events per save.
const watchDebounce = 300 * time.Millisecond

// Registry holds the loaded skill set, keeps it in sync with the skills
// directory, and persists enabled/disabled settings to a JSON sidecar.
type Registry struct {
	dir          string
	settingsPath string
	embed        memory.EmbedFunc // optional
	logger       *slog.Logger

	mu       sync.RWMutex
	skills   map[string]*Skill    // id → skill
	vectors  map[string][]float32 // id → embedding of "name: description"
	disabled map[string]bool

	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithEmbed plugs in an embedder used for semantic skill matching.
func WithEmbed(fn memory.EmbedFunc) RegistryOption {
	return func(r *Registry) { r.embed = fn }
}

// NewRegistry loads all skills under dir. settingsPath is the JSON
// sidecar persisting disabled skill ids (may live outside dir).
func NewRegistry(dir, settingsPath string, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		dir:          dir,
		settingsPath: settingsPath,
		logger:       slog.Default().With("component", "skills"),
		skills:       make(map[string]*Skill),
		vectors:      make(map[string][]float32),
		disabled:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.loadSettings()
	if err := r.loadAll(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) loadAll() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read skills dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(r.dir, e.Name(), SkillFilename)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		r.upsertFromFile(path)
	}
	return nil
}

// upsertFromFile parses and installs one skill; parse failures skip the
// skill and keep the registry running.
func (r *Registry) upsertFromFile(path string) {
	skill, err := ParseFile(path)
	if err != nil {
		r.logger.Warn("skipping unparseable skill", "path", path, "error", err)
		return
	}

	r.mu.Lock()
	if prev, ok := r.skills[skill.ID]; ok {
		skill.UseCount = prev.UseCount
	}
	skill.Enabled = !r.disabled[skill.ID]
	r.skills[skill.ID] = skill
	r.mu.Unlock()

	r.refreshVector(skill)
	r.logger.Info("skill loaded", "id", skill.ID, "path", path)
}

func (r *Registry) refreshVector(skill *Skill) {
	if r.embed == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	vecs, err := r.embed(ctx, []string{skill.Name + ": " + skill.Description})
	if err != nil || len(vecs) != 1 {
		r.logger.Warn("skill embedding failed", "id", skill.ID, "error", err)
		return
	}
	r.mu.Lock()
	r.vectors[skill.ID] = vecs[0]
	r.mu.Unlock()
}

// removeByPath drops the skill whose directory matches path.
func (r *Registry) removeByPath(path string) {
	dir := filepath.Dir(path)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.skills {
		if s.Path == dir {
			delete(r.skills, id)
			delete(r.vectors, id)
			r.logger.Info("skill removed", "id", id)
			return
		}
	}
}

// Get returns a skill by id.
func (r *Registry) Get(id string) (*Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[id]
	return s, ok
}

// List returns all skills sorted by id.
func (r *Registry) List() []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Skill, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListEnabled returns enabled skills sorted by id.
func (r *Registry) ListEnabled() []*Skill {
	var out []*Skill
	for _, s := range r.List() {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// BumpUseCount increments a skill's usage counter.
func (r *Registry) BumpUseCount(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.skills[id]; ok {
		s.UseCount++
	}
}

// SetEnabled toggles a skill and persists the sidecar synchronously.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	s, ok := r.skills[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("skill not found: %s", id)
	}
	s.Enabled = enabled
	if enabled {
		delete(r.disabled, id)
	} else {
		r.disabled[id] = true
	}
	r.mu.Unlock()
	return r.saveSettings()
}

// settings sidecar: only disabled ids are stored.
type settingsFile struct {
	Disabled []string `json:"disabled"`
}

func (r *Registry) loadSettings() {
	if r.settingsPath == "" {
		return
	}
	data, err := os.ReadFile(r.settingsPath)
	if err != nil {
		return
	}
	var sf settingsFile
	if err := json.Unmarshal(data, &sf); err != nil {
		r.logger.Warn("invalid skill settings file", "path", r.settingsPath, "error", err)
		return
	}
	for _, id := range sf.Disabled {
		r.disabled[id] = true
	}
}

func (r *Registry) saveSettings() error {
	if r.settingsPath == "" {
		return nil
	}
	r.mu.RLock()
	sf := settingsFile{Disabled: make([]string, 0, len(r.disabled))}
	for id := range r.disabled {
		sf.Disabled = append(sf.Disabled, id)
	}
	r.mu.RUnlock()
	sort.Strings(sf.Disabled)

	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.settingsPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(r.settingsPath, data, 0o644)
}

// Watch starts the recursive directory watcher. It returns immediately;
// events are debounced and applied in the background until ctx ends.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	r.watcher = watcher
	r.watchDone = make(chan struct{})

	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch skills dir: %w", err)
	}
	// Watch existing skill subdirectories too (fsnotify is not recursive).
	entries, _ := os.ReadDir(r.dir)
	for _, e := range entries {
		if e.IsDir() {
			watcher.Add(filepath.Join(r.dir, e.Name()))
		}
	}

	go r.watchLoop(ctx)
	return nil
}

func (r *Registry) watchLoop(ctx context.Context) {
	defer close(r.watchDone)
	defer r.watcher.Close()

	pending := make(map[string]fsnotify.Op)
	var timer *time.Timer
	var timerCh <-chan time.Time

	flush := func() {
		for path, op := range pending {
			delete(pending, path)
			switch {
			case op&fsnotify.Remove != 0 || op&fsnotify.Rename != 0:
				r.removeByPath(path)
			default:
				if info, err := os.Stat(path); err == nil && info.IsDir() {
					// New skill directory: watch it and load its SKILL.md.
					r.watcher.Add(path)
					skillFile := filepath.Join(path, SkillFilename)
					if _, err := os.Stat(skillFile); err == nil {
						r.upsertFromFile(skillFile)
					}
					continue
				}
				r.upsertFromFile(path)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if !r.relevant(ev.Name) {
				continue
			}
			pending[ev.Name] |= ev.Op
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			timerCh = timer.C
		case <-timerCh:
			flush()
			timerCh = nil
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("skill watcher error", "error", err)
		}
	}
}

// relevant filters watcher events to SKILL.md files and skill directories.
func (r *Registry) relevant(path string) bool {
	if filepath.Base(path) == SkillFilename {
		return true
	}
	// Directory create/remove directly under the skills root.
	return filepath.Dir(path) == r.dir && !strings.HasPrefix(filepath.Base(path), ".")
}
