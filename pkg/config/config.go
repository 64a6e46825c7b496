package config

import (
	"fmt"
	"log"
	"reflect"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Validator checks the just-(re)loaded config struct before it's accepted.
// LoadAndWatch rejects the initial load on a Validator error; a reload that
// fails validation is logged and discarded, leaving out holding its last
// good value rather than a half-valid hot-reload.
type Validator func(out interface{}) error

// LoadAndWatch loads config/{service}.yaml into out (env vars of the form
// SERVICE_SECTION_KEY override the matching section.key), then watches the
// file for changes and re-unmarshals into out on every edit. Any validators
// run after both the initial load and every reload.
func LoadAndWatch(service string, out interface{}, validators ...Validator) (*viper.Viper, error) {
	v := viper.New()
	// Convention: config/{service}.yaml
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".") // fallback: also allow the file next to the binary

	// Env override convention, e.g. for service "lob-engine":
	//   LOB_ENGINE_WAL_DIR overrides wal_dir
	v.SetEnvPrefix(strings.ToUpper(strings.ReplaceAll(service, "-", "_")))
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}
	if err := runValidators(out, validators); err != nil {
		return nil, fmt.Errorf("config: %s: %w", service, err)
	}

	log.Printf("[%s] config loaded from %s", service, v.ConfigFileUsed())

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("[%s] config file changed: %s", service, e.Name)

		// Decode into a copy of the current value so a failed decode or a
		// rejected config never touches out.
		cur := reflect.ValueOf(out).Elem()
		fresh := reflect.New(cur.Type())
		fresh.Elem().Set(cur)
		if err := v.Unmarshal(fresh.Interface()); err != nil {
			log.Printf("[%s] reload config error: %v", service, err)
			return
		}
		if err := runValidators(fresh.Interface(), validators); err != nil {
			log.Printf("[%s] reload config rejected: %v", service, err)
			return
		}
		cur.Set(fresh.Elem())
		log.Printf("[%s] config reloaded OK", service)
	})

	return v, nil
}

func runValidators(out interface{}, validators []Validator) error {
	for _, fn := range validators {
		if err := fn(out); err != nil {
			return err
		}
	}
	return nil
}
