package common

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the orchestration core's configuration, overridden from the
// environment variables named in spec.md §6. Defaults match the teacher's
// LoadConfig style: start from sane defaults, then overlay whatever is set.
type Config struct {
	Scheduler SchedulerConfig
	Failer    FailerConfig
	Reaper    ReaperConfig
	Queue     QueueConfig
	Errors    ErrorsConfig
	Pods      PodsConfig
}

type SchedulerConfig struct {
	ScaleFactor             float64 `toml:"scale_factor"`       // SERVICE_QUEUE_BATCH_SIZE_COEFFICIENT
	FastScaleFactor         float64 `toml:"fast_scale_factor"`  // FAST_SERVICE_QUEUE_BATCH_SIZE_COEFFICIENT (query-cmr)
	QueueMaxBatchSize       int     `toml:"queue_max_batch_size"` // WORK_ITEM_SCHEDULER_QUEUE_MAX_BATCH_SIZE
	QueueMaxGetMessageTries int     `toml:"queue_max_get_message_tries"` // WORK_ITEM_SCHEDULER_QUEUE_MAX_GET_MESSAGE_REQUESTS
	SelectorBatchSize       int     `toml:"selector_batch_size"` // WORK_ITEM_SCHEDULER_BATCH_SIZE
	Schedulers              int     `toml:"schedulers"`          // replica count used in the batch-size formula
	MaxWorkItemsOnUpdateQueue int   `toml:"max_work_items_on_update_queue"` // MAX_WORK_ITEMS_ON_UPDATE_QUEUE, -1 disables
	UseServiceQueues        bool    `toml:"use_service_queues"`  // USE_SERVICE_QUEUES
}

type FailerConfig struct {
	PeriodSec       int    `toml:"period_sec"`        // WORK_FAILER_PERIOD_SEC
	FailableAgeMins int    `toml:"failable_age_mins"` // FAILABLE_WORK_AGE_MINUTES
	CronExpr        string `toml:"cron_expr"`         // WORK_FAILER_CRON, optional; overrides the plain-ticker period when set
}

type ReaperConfig struct {
	PeriodSec    int    `toml:"period_sec"`   // WORK_REAPER_PERIOD_SEC
	ReapableMins int    `toml:"reapable_mins"` // REAPABLE_WORK_AGE_MINUTES
	BatchSize    int    `toml:"batch_size"`    // WORK_REAPER_BATCH_SIZE
	CronExpr     string `toml:"cron_expr"`     // WORK_REAPER_CRON, optional
}

type QueueConfig struct {
	LargeUpdateMaxBatchSize int           `toml:"large_update_max_batch_size"` // LARGE_WORK_ITEM_UPDATE_QUEUE_MAX_BATCH_SIZE
	VisibilityTimeout       time.Duration `toml:"-"`
	MaxReceive              int           `toml:"max_receive"`
}

type ErrorsConfig struct {
	MaxErrorsForJob int `toml:"max_errors_for_job"` // MAX_ERRORS_FOR_JOB
}

type PodsConfig struct {
	CacheTTL time.Duration `toml:"-"` // POD_COUNT_CACHE_TTL
}

// LoadConfig builds a Config from defaults, overlaid by an optional TOML
// file (GEOWORK_CONFIG_FILE), overlaid in turn by environment variables --
// the teacher loads a TOML file then lets env win, and operators who prefer
// one file over 14 env vars get that same overlay here.
func LoadConfig() *Config {
	c := defaultConfig()

	if path := os.Getenv("GEOWORK_CONFIG_FILE"); path != "" {
		if err := applyTOMLFile(c, path); err != nil {
			fmt.Fprintf(os.Stderr, "geowork: failed to load config file %s: %v\n", path, err)
		}
	}

	applyEnvOverlay(c)
	return c
}

// applyTOMLFile unmarshals path into a scratch Config and overlays its
// nonzero fields onto c; fields left at TOML's zero value keep c's default.
func applyTOMLFile(c *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var overlay Config
	if err := toml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse toml: %w", err)
	}
	mergeNonZero(&c.Scheduler, &overlay.Scheduler)
	mergeNonZero(&c.Failer, &overlay.Failer)
	mergeNonZero(&c.Reaper, &overlay.Reaper)
	mergeNonZero(&c.Queue, &overlay.Queue)
	mergeNonZero(&c.Errors, &overlay.Errors)
	return nil
}

func defaultConfig() *Config {
	c := &Config{
		Scheduler: SchedulerConfig{
			ScaleFactor:               1.1,
			FastScaleFactor:           1.1,
			QueueMaxBatchSize:         100,
			QueueMaxGetMessageTries:   10,
			SelectorBatchSize:         50,
			Schedulers:                1,
			MaxWorkItemsOnUpdateQueue: -1,
			UseServiceQueues:          true,
		},
		Failer: FailerConfig{
			PeriodSec:       60,
			FailableAgeMins: 60,
		},
		Reaper: ReaperConfig{
			PeriodSec:    3600,
			ReapableMins: 60 * 24 * 7,
			BatchSize:    500,
		},
		Queue: QueueConfig{
			LargeUpdateMaxBatchSize: 10,
			VisibilityTimeout:       5 * time.Minute,
			MaxReceive:              3,
		},
		Errors: ErrorsConfig{
			MaxErrorsForJob: 5,
		},
		Pods: PodsConfig{
			CacheTTL: 30 * time.Second,
		},
	}
	return c
}

// applyEnvOverlay overlays environment variables onto c, taking precedence
// over both defaults and any TOML file already merged in.
func applyEnvOverlay(c *Config) {
	if v := getFloat("SERVICE_QUEUE_BATCH_SIZE_COEFFICIENT"); v != 0 {
		c.Scheduler.ScaleFactor = v
	}
	if v := getFloat("FAST_SERVICE_QUEUE_BATCH_SIZE_COEFFICIENT"); v != 0 {
		c.Scheduler.FastScaleFactor = v
	}
	if v := getInt("WORK_ITEM_SCHEDULER_QUEUE_MAX_BATCH_SIZE"); v != 0 {
		c.Scheduler.QueueMaxBatchSize = v
	}
	if v := getInt("WORK_ITEM_SCHEDULER_QUEUE_MAX_GET_MESSAGE_REQUESTS"); v != 0 {
		c.Scheduler.QueueMaxGetMessageTries = v
	}
	if v := getInt("WORK_ITEM_SCHEDULER_BATCH_SIZE"); v != 0 {
		c.Scheduler.SelectorBatchSize = v
	}
	if v, ok := os.LookupEnv("MAX_WORK_ITEMS_ON_UPDATE_QUEUE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scheduler.MaxWorkItemsOnUpdateQueue = n
		}
	}
	if v, ok := os.LookupEnv("USE_SERVICE_QUEUES"); ok {
		c.Scheduler.UseServiceQueues = v == "true" || v == "1"
	}
	if v := getInt("WORK_FAILER_PERIOD_SEC"); v != 0 {
		c.Failer.PeriodSec = v
	}
	if v := getInt("FAILABLE_WORK_AGE_MINUTES"); v != 0 {
		c.Failer.FailableAgeMins = v
	}
	if v, ok := os.LookupEnv("WORK_FAILER_CRON"); ok {
		c.Failer.CronExpr = v
	}
	if v := getInt("WORK_REAPER_PERIOD_SEC"); v != 0 {
		c.Reaper.PeriodSec = v
	}
	if v := getInt("REAPABLE_WORK_AGE_MINUTES"); v != 0 {
		c.Reaper.ReapableMins = v
	}
	if v := getInt("WORK_REAPER_BATCH_SIZE"); v != 0 {
		c.Reaper.BatchSize = v
	}
	if v, ok := os.LookupEnv("WORK_REAPER_CRON"); ok {
		c.Reaper.CronExpr = v
	}
	if v := getInt("LARGE_WORK_ITEM_UPDATE_QUEUE_MAX_BATCH_SIZE"); v != 0 {
		c.Queue.LargeUpdateMaxBatchSize = v
	}
	if v := getInt("MAX_ERRORS_FOR_JOB"); v != 0 {
		c.Errors.MaxErrorsForJob = v
	}
	if v := getDuration("POD_COUNT_CACHE_TTL"); v != 0 {
		c.Pods.CacheTTL = v
	}
}

// mergeNonZero copies every nonzero field of overlay onto dst; both must
// point to identical struct types. Used to let a TOML file set a subset of
// fields without clobbering the rest with zero values.
func mergeNonZero[T any](dst, overlay *T) {
	dv := reflect.ValueOf(dst).Elem()
	ov := reflect.ValueOf(overlay).Elem()
	for i := 0; i < dv.NumField(); i++ {
		f := ov.Field(i)
		if f.IsZero() {
			continue
		}
		dv.Field(i).Set(f)
	}
}

func getInt(key string) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func getFloat(key string) float64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func getDuration(key string) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}
