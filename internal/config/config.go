// Package config holds the runtime configuration surface enumerated in
// spec.md §6. tilebot never persists this struct to disk itself — profile
// files are an external collaborator (spec.md §1) — but the struct carries
// yaml tags so it stays wire-compatible with whatever editor writes one.
package config

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/kvassilev/tilebot/internal/colordet"
	"github.com/kvassilev/tilebot/internal/geometry"
	"gopkg.in/yaml.v3"
)

// AggroStrategy selects how Instance Mode maintains the aggro effect.
type AggroStrategy string

const (
	AggroBar      AggroStrategy = "bar"
	AggroTimer    AggroStrategy = "timer"
	AggroHybrid   AggroStrategy = "hybrid"
)

// CombatStyle names a weapon/attack style used by Multi-Monster mode and the
// combat-style indicator.
type CombatStyle string

const (
	StyleMelee  CombatStyle = "melee"
	StyleRanged CombatStyle = "ranged"
	StyleMagic  CombatStyle = "magic"
)

// MultiMonsterStyleConfig is one entry of spec.md §6's
// `multi_monster_configs` (per-style color plus alternates).
type MultiMonsterStyleConfig struct {
	Style      CombatStyle        `yaml:"style"`
	Color      colordet.ColorSpec `yaml:"color"`
	Alternates []colordet.ColorSpec `yaml:"alternates"`
}

// Config is the full configuration surface from spec.md §6. Zero value is
// not directly usable; call Validate (or Default) before use.
type Config struct {
	// Detection cadence
	ScanIntervalS       float64 `yaml:"scan_interval"`
	DetectionCacheTTLS  float64 `yaml:"detection_cache_ttl"`
	SearchStep          int     `yaml:"search_step"`
	UsePreciseMode      bool    `yaml:"use_precise_mode"`
	AdaptiveSearch      bool    `yaml:"adaptive_search"`
	TilePersistenceMs   int64   `yaml:"tile_persistence_ms"`
	MonsterPersistenceMs int64  `yaml:"monster_persistence_ms"`

	// Regions
	SearchROI             geometry.Region `yaml:"search_roi"`
	HPBarROI              geometry.Region `yaml:"hpbar_roi"`
	CombatStyleROI        geometry.Region `yaml:"combat_style_roi"`
	CombatWeaponROI       geometry.Region `yaml:"combat_weapon_roi"`
	WeaponROI             geometry.Region `yaml:"weapon_roi"`
	InstanceAggroBarROI   geometry.Region `yaml:"instance_aggro_bar_roi"`
	ChatROI               geometry.Region `yaml:"chat_roi"`
	OneTeleOneKillTeleportROI geometry.Region `yaml:"one_tele_one_kill_teleport_roi"`

	// Colors
	TileColor      colordet.ColorSpec   `yaml:"tile_color"`
	MonsterColors  []colordet.ColorSpec `yaml:"monster_colors"`
	HPBarColor     colordet.ColorSpec   `yaml:"hpbar_color"`
	CombatStyleMeleeColor  colordet.ColorSpec `yaml:"combat_style_melee_color"`
	CombatStyleRangedColor colordet.ColorSpec `yaml:"combat_style_ranged_color"`
	CombatStyleMagicColor  colordet.ColorSpec `yaml:"combat_style_magic_color"`
	CombatWeaponMeleeColor  colordet.ColorSpec `yaml:"combat_weapon_melee_color"`
	CombatWeaponRangedColor colordet.ColorSpec `yaml:"combat_weapon_ranged_color"`
	CombatWeaponMagicColor  colordet.ColorSpec `yaml:"combat_weapon_magic_color"`
	MultiMonsterConfigs []MultiMonsterStyleConfig `yaml:"multi_monster_configs"`
	InstanceAggroBarColor1 colordet.ColorSpec `yaml:"instance_aggro_bar_color1"`
	InstanceAggroBarColor2 colordet.ColorSpec `yaml:"instance_aggro_bar_color2"`
	InstanceAggroBarColor3 colordet.ColorSpec `yaml:"instance_aggro_bar_color3"`

	// Thresholds
	TileMinArea             float64 `yaml:"tile_min_area"`
	MonsterMinArea          float64 `yaml:"monster_min_area"`
	AroundTileRadius        int     `yaml:"around_tile_radius"`
	ROIMaxExpansion         int     `yaml:"roi_max_expansion"`
	ROIExpansionFactor      float64 `yaml:"roi_expansion_factor"`
	EnableMonsterFullFallback bool  `yaml:"enable_monster_full_fallback"`
	HPBarMinArea            float64 `yaml:"hpbar_min_area"`
	HPBarMinPixelMatches    int     `yaml:"hpbar_min_pixel_matches"`
	CombatStyleMinPixels       int  `yaml:"combat_style_min_pixels"`
	CombatStyleMinPixelsMelee  int  `yaml:"combat_style_min_pixels_melee"`
	CombatStyleMinPixelsRanged int  `yaml:"combat_style_min_pixels_ranged"`
	CombatStyleMinPixelsMagic  int  `yaml:"combat_style_min_pixels_magic"`
	WeaponMinPixels            int  `yaml:"weapon_min_pixels"`
	InstanceAggroBarMinPixelsPerColor int `yaml:"instance_aggro_bar_min_pixels_per_color"`

	// Combat gating
	CombatNotSeenTimeoutS   float64 `yaml:"combat_not_seen_timeout_s"`
	CombatLeaveImmediately  bool    `yaml:"combat_leave_immediately"`
	SkipDetectionWhenInCombat bool  `yaml:"skip_detection_when_in_combat"`
	PostCombatDelayMinS     float64 `yaml:"post_combat_delay_min_s"`
	PostCombatDelayMaxS     float64 `yaml:"post_combat_delay_max_s"`
	AttackGraceS            float64 `yaml:"attack_grace_s"`

	// Clicking
	ClickDelayMs              int     `yaml:"click_delay"`
	ClickAfterFoundSleepMs    int     `yaml:"click_after_found_sleep"`
	MinMonsterClickCooldownS  float64 `yaml:"min_monster_click_cooldown_s"`
	LowConfidenceClickEnabled bool    `yaml:"low_confidence_click_enabled"`
	LowConfidenceAreaThreshold float64 `yaml:"low_confidence_area_threshold"`
	LowConfMinCount           int     `yaml:"low_conf_min_count"`
	ClickVariationPercent     float64 `yaml:"click_variation"`
	MinClickCooldownMs        int     `yaml:"min_click_cooldown"`

	// Humanization
	HumanizeOn              bool    `yaml:"humanize_on"`
	BreakEveryS              float64 `yaml:"break_every_s"`
	BreakDurationS           float64 `yaml:"break_duration_s"`
	HumanizeJitterEnabled    bool    `yaml:"humanize_jitter_enabled"`
	HumanizeJitterPercent    float64 `yaml:"humanize_jitter_percent"`

	// Instance Mode
	InstanceOnlyMode            bool          `yaml:"instance_only_mode"`
	InstanceAggroStrategy       AggroStrategy `yaml:"instance_aggro_strategy"`
	InstanceAggroIntervalMinM   float64       `yaml:"instance_aggro_interval_min"`
	InstanceAggroStartDelayS    float64       `yaml:"instance_aggro_start_delay_s"`
	InstanceAggroJitterEnabled  bool          `yaml:"instance_aggro_jitter_enabled"`
	InstanceAggroJitterPercent  float64       `yaml:"instance_aggro_jitter_percent"`
	InstancePostTeleportHPWaitS float64       `yaml:"instance_post_teleport_hp_wait"`
	InstancePostAggroHPWaitS    float64       `yaml:"instance_post_aggro_hp_wait"`
	InstanceHPTimeoutS          float64       `yaml:"instance_hp_timeout"`
	InstanceTeleportMaxRetries  int           `yaml:"instance_teleport_max_retries"`
	InstanceTokenDelayS         float64       `yaml:"instance_token_delay"`

	// 1-Tele-1-Kill
	OneTeleOneKillEnabled     bool    `yaml:"one_tele_one_kill_enabled"`
	OneTeleOneKillHPTimeoutS  float64 `yaml:"one_tele_one_kill_hp_timeout_s"`
	OneTeleOneKillTeleportXY  geometry.Point `yaml:"one_tele_one_kill_teleport_xy"`
	OneTeleUseROI             bool    `yaml:"one_tele_use_roi"`
	OneTelePostHotkeyEnabled  bool    `yaml:"one_tele_post_hotkey_enabled"`
	OneTelePostHotkeyValue    string  `yaml:"one_tele_post_hotkey_value"`
	OneTelePostHotkeyDelayMs  int     `yaml:"one_tele_post_hotkey_delay"`

	// Multi-Monster mode
	MultiMonsterMode bool `yaml:"multi_monster_mode"`

	// Coordinates
	InstanceTokenLocation    geometry.Point `yaml:"instance_token_location"`
	InstanceTeleportLocation geometry.Point `yaml:"instance_teleport_location"`
	AggroPotionLocation      geometry.Point `yaml:"aggro_potion_location"`
	ChatPrayerEnableXY       geometry.Point `yaml:"chat_prayer_enable_xy"`

	// Window focus
	WindowTitleSubstring string `yaml:"window_title_substring"`

	mu          sync.Mutex
	overrides   map[string]any
	warnedOnce  map[string]bool
	logger      *slog.Logger
}

// Default returns a Config populated with conservative defaults matching the
// magnitudes spec.md's end-to-end scenarios assume.
func Default() *Config {
	c := &Config{
		ScanIntervalS:      0.25,
		DetectionCacheTTLS: 0.05,
		SearchStep:         1,
		UsePreciseMode:     false,
		AdaptiveSearch:     true,
		TilePersistenceMs:    300,
		MonsterPersistenceMs: 300,

		SearchROI: geometry.Region{Width: 800, Height: 600, Mode: geometry.ModeAbsolute},
		HPBarROI:  geometry.Region{Width: 100, Height: 20, Mode: geometry.ModeAbsolute},

		TileColor: colordet.NewColorSpec(255, 0, 0, 20, false, 10, 30, 30),
		MonsterColors: []colordet.ColorSpec{
			colordet.NewColorSpec(0, 255, 0, 20, false, 10, 30, 30),
		},
		HPBarColor: colordet.NewColorSpec(255, 0, 0, 20, false, 10, 30, 30),

		TileMinArea:    40,
		MonsterMinArea: 20,
		AroundTileRadius: 120,
		ROIMaxExpansion:  3,
		ROIExpansionFactor: 1.5,

		HPBarMinArea:         10,
		HPBarMinPixelMatches: 20,

		CombatNotSeenTimeoutS: 2.0,
		PostCombatDelayMinS:   0.8,
		PostCombatDelayMaxS:   1.6,
		AttackGraceS:          0.6,

		ClickDelayMs:             80,
		ClickAfterFoundSleepMs:   200,
		MinMonsterClickCooldownS: 0.5,
		ClickVariationPercent:    20,
		MinClickCooldownMs:       250,

		HumanizeOn:            true,
		BreakEveryS:           900,
		BreakDurationS:        30,
		HumanizeJitterPercent: 15,

		InstanceAggroStrategy:      AggroHybrid,
		InstanceAggroIntervalMinM:  15,
		InstanceAggroStartDelayS:   5,
		InstanceAggroJitterPercent: 10,
		InstancePostTeleportHPWaitS: 5,
		InstancePostAggroHPWaitS:    5,
		InstanceHPTimeoutS:          10,
		InstanceTeleportMaxRetries:  3,
		InstanceTokenDelayS:         1.0,

		OneTeleOneKillHPTimeoutS: 3.0,

		overrides:  make(map[string]any),
		warnedOnce: make(map[string]bool),
	}
	c.Validate(nil)
	return c
}

// FromYAML decodes a YAML document into a new Config, layering onto Default()
// values, then validates. This is a thin convenience for tests and the CLI's
// --profile flag; it is not the profile editor UI (out of scope, spec.md §1).
func FromYAML(data []byte, logger *slog.Logger) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	c.Validate(logger)
	return c, nil
}

// Validate clamps out-of-range tolerances (spec.md §3 ColorSpec invariant,
// §7 "Invalid configuration") and logs a one-shot warning per offending
// field, matching the teacher's Validate() clamp-in-place shape.
func (c *Config) Validate(logger *slog.Logger) {
	c.logger = logger
	if c.warnedOnce == nil {
		c.warnedOnce = make(map[string]bool)
	}
	if c.overrides == nil {
		c.overrides = make(map[string]any)
	}
	warn := func(field string, msg string) {
		if c.warnedOnce[field] {
			return
		}
		c.warnedOnce[field] = true
		if c.logger != nil {
			c.logger.Warn("config value clamped", "field", field, "detail", msg)
		}
	}
	if c.ScanIntervalS <= 0 {
		c.ScanIntervalS = 0.25
		warn("scan_interval", "must be > 0")
	}
	if c.SearchStep < 1 {
		c.SearchStep = 1
		warn("search_step", "must be >= 1")
	}
	if c.AroundTileRadius < 1 {
		c.AroundTileRadius = 1
		warn("around_tile_radius", "must be >= 1")
	}
	if c.ROIMaxExpansion < 0 {
		c.ROIMaxExpansion = 0
		warn("roi_max_expansion", "must be >= 0")
	}
	if c.ROIExpansionFactor <= 1 {
		c.ROIExpansionFactor = 1.2
		warn("roi_expansion_factor", "must be > 1")
	}
	if c.ClickVariationPercent < 0 {
		c.ClickVariationPercent = 0
		warn("click_variation", "must be >= 0")
	} else if c.ClickVariationPercent > 100 {
		c.ClickVariationPercent = 100
		warn("click_variation", "must be <= 100")
	}
	if c.PostCombatDelayMaxS < c.PostCombatDelayMinS {
		c.PostCombatDelayMaxS = c.PostCombatDelayMinS
		warn("post_combat_delay_max_s", "must be >= post_combat_delay_min_s")
	}
	if c.InstanceAggroIntervalMinM <= 0 {
		c.InstanceAggroIntervalMinM = 15
		warn("instance_aggro_interval_min", "must be > 0")
	}
	if c.InstanceTeleportMaxRetries < 0 {
		c.InstanceTeleportMaxRetries = 0
		warn("instance_teleport_max_retries", "must be >= 0")
	}
	c.TileColor = clampColor("tile_color", c.TileColor, warn)
	c.HPBarColor = clampColor("hpbar_color", c.HPBarColor, warn)
	for i := range c.MonsterColors {
		c.MonsterColors[i] = clampColor(fmt.Sprintf("monster_colors[%d]", i), c.MonsterColors[i], warn)
	}
}

// clampColor clamps a ColorSpec and reports through warn when clamping
// actually changed something, matching spec.md §3's "clamped at
// construction and logged once" ColorSpec invariant.
func clampColor(field string, spec colordet.ColorSpec, warn func(field, msg string)) colordet.ColorSpec {
	clamped := spec.Clamped()
	if clamped != spec {
		warn(field, "color tolerances clamped to valid range")
	}
	return clamped
}

// Get implements the pull interface from spec.md §6 ("Persisted state"): it
// returns the runtime override stored by Set for key, or def when none is
// set. The struct fields are not consulted, and tilebot's own code reads
// the struct fields directly rather than calling Get.
func (c *Config) Get(key string, def any) any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.overrides[key]; ok {
		return v
	}
	return def
}

// Set stores a runtime override for Get. Safe for concurrent use; readers
// take a snapshot per access per spec.md §5's shared-resource policy.
func (c *Config) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.overrides == nil {
		c.overrides = make(map[string]any)
	}
	c.overrides[key] = value
}
