package main

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

//go:embed stories/*.json
var bundledStories embed.FS

// PlayerCount bounds how many players a story supports.
type PlayerCount struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

type Setting struct {
	Location   string `json:"location"`
	Time       string `json:"time,omitempty"`
	Atmosphere string `json:"atmosphere,omitempty"`
}

type Victim struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Character is story content. Everything past PublicInfo is private to
// the player holding the character and must never reach anyone else.
type Character struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	NameCN            string            `json:"name_cn,omitempty"`
	PublicInfo        string            `json:"public_info"`
	PrivateBackground string            `json:"private_background"`
	Secrets           []string          `json:"secrets"`
	Relationships     map[string]string `json:"relationships"`
	Goals             []string          `json:"goals"`
}

type Location struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	NameCN          string   `json:"name_cn,omitempty"`
	Description     string   `json:"description"`
	SearchableItems []string `json:"searchable_items"`
}

type Clue struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Location      string `json:"location"`
	DiscoveryHint string `json:"discovery_hint,omitempty"`
}

type Solution struct {
	Culprit     string `json:"culprit"`
	Motive      string `json:"motive"`
	Method      string `json:"method"`
	Explanation string `json:"explanation"`
}

type TimelineEntry struct {
	Time  string `json:"time"`
	Event string `json:"event"`
}

type StoryPhases struct {
	IntroNarration string `json:"intro_narration,omitempty"`
}

// Story is one complete, immutable story definition. The engine only
// ever reads these; per-session discovery state lives on the Session.
type Story struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	TitleCN         string          `json:"title_cn,omitempty"`
	Description     string          `json:"description"`
	PlayerCount     PlayerCount     `json:"player_count"`
	Difficulty      string          `json:"difficulty"`
	DurationMinutes int             `json:"duration_minutes"`
	Setting         Setting         `json:"setting"`
	Victim          Victim          `json:"victim"`
	Characters      []Character     `json:"characters"`
	Locations       []Location      `json:"locations"`
	Clues           []Clue          `json:"clues"`
	Timeline        []TimelineEntry `json:"timeline,omitempty"`
	Phases          StoryPhases     `json:"phases"`
	Solution        *Solution       `json:"solution,omitempty"`
}

func (s *Story) character(characterID string) (*Character, bool) {
	for i := range s.Characters {
		if s.Characters[i].ID == characterID {
			return &s.Characters[i], true
		}
	}
	return nil, false
}

func (s *Story) location(locationID string) (*Location, bool) {
	for i := range s.Locations {
		if s.Locations[i].ID == locationID {
			return &s.Locations[i], true
		}
	}
	return nil, false
}

// clueAt maps a (location, item) search to a clue definition. An empty
// item matches the first clue at the location; otherwise the item must
// appear in the clue's discovery hint, case-insensitively.
func (s *Story) clueAt(locationID, item string) (*Clue, bool) {
	for i := range s.Clues {
		clue := &s.Clues[i]
		if clue.Location != locationID {
			continue
		}
		if item != "" && !strings.Contains(strings.ToLower(clue.DiscoveryHint), strings.ToLower(item)) {
			continue
		}
		return clue, true
	}
	return nil, false
}

// StorySummary is the listing view of a story, without any content
// that could spoil the mystery.
type StorySummary struct {
	ID              string      `json:"id"`
	Title           string      `json:"title"`
	TitleCN         string      `json:"title_cn,omitempty"`
	Description     string      `json:"description"`
	PlayerCount     PlayerCount `json:"player_count"`
	Difficulty      string      `json:"difficulty"`
	DurationMinutes int         `json:"duration_minutes"`
}

func (s *Story) summary() StorySummary {
	return StorySummary{
		ID:              s.ID,
		Title:           s.Title,
		TitleCN:         s.TitleCN,
		Description:     s.Description,
		PlayerCount:     s.PlayerCount,
		Difficulty:      s.Difficulty,
		DurationMinutes: s.DurationMinutes,
	}
}

// StoryDetail is the single-story view: setting, victim, and locations
// are fair game, the solution and private character info are not.
type StoryDetail struct {
	StorySummary
	Setting   Setting         `json:"setting"`
	Victim    Victim          `json:"victim"`
	Locations []Location      `json:"locations"`
	Timeline  []TimelineEntry `json:"timeline,omitempty"`
}

func (s *Story) detail() StoryDetail {
	return StoryDetail{
		StorySummary: s.summary(),
		Setting:      s.Setting,
		Victim:       s.Victim,
		Locations:    s.Locations,
		Timeline:     s.Timeline,
	}
}

// CharacterView is the public slice of a character plus its taken flag
// for the character-selection screen.
type CharacterView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	NameCN     string `json:"name_cn,omitempty"`
	PublicInfo string `json:"public_info"`
	IsTaken    bool   `json:"is_taken"`
	TakenBy    string `json:"taken_by,omitempty"`
}

// ClueView is the broadcast shape of a discovered clue.
type ClueView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

func (c *Clue) view() ClueView {
	return ClueView{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Location:    c.Location,
	}
}

// Catalog is the read-only story repository. Stories bundled into the
// binary are always available; a configured directory can add more or
// shadow bundled ones by ID.
type Catalog struct {
	mu      sync.RWMutex
	dir     string
	stories map[string]*Story
}

func newCatalog(dir string) (*Catalog, error) {
	c := &Catalog{
		dir:     dir,
		stories: make(map[string]*Story),
	}
	if err := c.reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) reload() error {
	stories := make(map[string]*Story)

	entries, err := bundledStories.ReadDir("stories")
	if err != nil {
		return err
	}
	for _, entry := range entries {
		data, err := bundledStories.ReadFile("stories/" + entry.Name())
		if err != nil {
			return err
		}
		story, err := parseStory(data)
		if err != nil {
			return fmt.Errorf("bundled story %s: %w", entry.Name(), err)
		}
		stories[story.ID] = story
	}

	if c.dir != "" {
		matches, err := filepath.Glob(filepath.Join(c.dir, "*.json"))
		if err != nil {
			return err
		}
		for _, path := range matches {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			story, err := parseStory(data)
			if err != nil {
				return fmt.Errorf("story %s: %w", path, err)
			}
			stories[story.ID] = story
		}
	}

	c.mu.Lock()
	c.stories = stories
	c.mu.Unlock()

	return nil
}

func parseStory(data []byte) (*Story, error) {
	var story Story
	if err := json.Unmarshal(data, &story); err != nil {
		return nil, err
	}
	if story.ID == "" {
		return nil, fmt.Errorf("story has no id")
	}
	if story.PlayerCount.Min < 1 || story.PlayerCount.Max < story.PlayerCount.Min {
		return nil, fmt.Errorf("story %s has invalid player count %d-%d",
			story.ID, story.PlayerCount.Min, story.PlayerCount.Max)
	}
	return &story, nil
}

func (c *Catalog) get(storyID string) (*Story, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	story, ok := c.stories[storyID]
	return story, ok
}

func (c *Catalog) list() []StorySummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summaries := make([]StorySummary, 0, len(c.stories))
	for _, story := range c.stories {
		summaries = append(summaries, story.summary())
	}
	return summaries
}
