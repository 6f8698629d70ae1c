package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	sch "touchbase/internal/task/scheduler"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	_ = validate.RegisterValidation("duration", validateDuration)
	validate.RegisterTagNameFunc(jsonName)
}

// validateDuration accepts non-negative Go duration strings.
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(strings.TrimSpace(fl.Field().String()))
	return err == nil && d >= 0
}

func jsonName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// Validate checks struct tags first, then rules spanning several sections.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fieldError(fe))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return err
	}

	if cfg.TaskEngine != nil && cfg.Scheduler.Enabled && cfg.TaskEngine.Enabled != nil && !*cfg.TaskEngine.Enabled {
		return fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required when storage.driver=%s", cfg.Storage.Driver)
		}
	}
	if s := strings.TrimSpace(cfg.Reconcile.SweepSchedule); s != "" {
		if _, err := sch.ParseSchedule(s); err != nil {
			return fmt.Errorf("reconcile.sweep_schedule: %w", err)
		}
		if !cfg.Scheduler.Enabled {
			return fmt.Errorf("reconcile.sweep_schedule requires scheduler.enabled")
		}
	}
	return nil
}

// fieldError renders e.g. "http.addr: failed hostname_port".
func fieldError(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:] // drop root type name
	}
	msg := ns + ": failed " + fe.Tag()
	if p := fe.Param(); p != "" {
		msg += "=" + p
	}
	if v := fmt.Sprint(fe.Value()); v != "" {
		msg += fmt.Sprintf(" (got %q)", v)
	}
	return msg
}
