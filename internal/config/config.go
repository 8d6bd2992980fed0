// Package config loads the era5daily configuration from a YAML file, the
// environment and command line overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rtm0/era5daily/internal/era5"
)

// DefaultCDSURL is the Climate Data Store API root.
const DefaultCDSURL = "https://cds.climate.copernicus.eu/api"

// DefaultVariables are the ERA5 single level variables retrieved when none
// are configured.
var DefaultVariables = []string{
	"low_cloud_cover",
	"mean_sea_level_pressure",
	"mean_surface_downward_long_wave_radiation_flux",
	"vertical_integral_of_eastward_heat_flux",
	"vertical_integral_of_eastward_water_vapour_flux",
	"vertical_integral_of_northward_heat_flux",
	"vertical_integral_of_northward_water_vapour_flux",
}

// Config represents the complete era5daily configuration.
type Config struct {
	Dataset      string        `mapstructure:"dataset" validate:"required"`
	ProductType  string        `mapstructure:"product_type" validate:"required"`
	Variables    []string      `mapstructure:"variables" validate:"required,min=1,dive,required"`
	Area         AreaConfig    `mapstructure:"area"`
	Years        YearsConfig   `mapstructure:"years"`
	Months       []int         `mapstructure:"months" validate:"required,min=1,unique,dive,min=1,max=12"`
	Format       string        `mapstructure:"format" validate:"oneof=netcdf"`
	DataDir      string        `mapstructure:"data_dir" validate:"required"`
	OnError      string        `mapstructure:"on_error" validate:"oneof=abort skip"`
	SkipExisting bool          `mapstructure:"skip_existing"`
	CDS          CDSConfig     `mapstructure:"cds"`
	Breaker      BreakerConfig `mapstructure:"breaker"`
	Metrics      MetricsConfig `mapstructure:"metrics"`
	Publish      PublishConfig `mapstructure:"publish"`
	Logging      LoggingConfig `mapstructure:"logging"`
}

// AreaConfig is the retrieval bounding box in degrees.
type AreaConfig struct {
	North float64 `mapstructure:"north" validate:"gte=-90,lte=90,gtfield=South"`
	West  float64 `mapstructure:"west" validate:"gte=-360,lte=360"`
	South float64 `mapstructure:"south" validate:"gte=-90,lte=90"`
	East  float64 `mapstructure:"east" validate:"gte=-360,lte=360"`
}

// YearsConfig is the inclusive range of years to sweep.
type YearsConfig struct {
	Start int `mapstructure:"start" validate:"gte=1940"`
	End   int `mapstructure:"end" validate:"gtefield=Start"`
}

// CDSConfig contains Climate Data Store API settings.
type CDSConfig struct {
	URL             string        `mapstructure:"url" validate:"required,url"`
	Key             string        `mapstructure:"key"`
	PollInterval    time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	MaxPollInterval time.Duration `mapstructure:"max_poll_interval" validate:"gtefield=PollInterval"`
}

// BreakerConfig controls when consecutive retrieval failures stop the sweep.
type BreakerConfig struct {
	MaxConsecutiveFailures uint32 `mapstructure:"max_consecutive_failures" validate:"gte=1"`
}

// MetricsConfig contains metrics export settings.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// PublishConfig contains object storage settings for daily files.
type PublishConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// RequestSpec returns the month independent part of every retrieval request.
func (c *Config) RequestSpec() era5.RequestSpec {
	return era5.RequestSpec{
		Dataset:     c.Dataset,
		ProductType: c.ProductType,
		Variables:   c.Variables,
		Area: era5.Area{
			North: c.Area.North,
			West:  c.Area.West,
			South: c.Area.South,
			East:  c.Area.East,
		},
		Format: c.Format,
	}
}

// Load reads configuration from file, environment variables and the given
// overrides, in increasing order of precedence. A .env file in the working
// directory is loaded into the environment first.
func Load(cfgFile string, overrides map[string]any) (*Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("era5daily")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/era5daily")
	}

	v.SetEnvPrefix("ERA5DAILY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The variables the CDS tooling itself understands.
	_ = v.BindEnv("cds.url", "ERA5DAILY_CDS_URL", "CDSAPI_URL")
	_ = v.BindEnv("cds.key", "ERA5DAILY_CDS_KEY", "CDSAPI_KEY")

	setDefaults(v)
	for key, val := range overrides {
		v.Set(key, val)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if cfg.CDS.Key == "" {
		if err := readCDSAPIRC(&cfg.CDS, cdsapircPath()); err != nil {
			return nil, err
		}
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dataset", "reanalysis-era5-single-levels")
	v.SetDefault("product_type", "reanalysis")
	v.SetDefault("variables", DefaultVariables)
	v.SetDefault("area.north", 90)
	v.SetDefault("area.west", 0)
	v.SetDefault("area.south", 60)
	v.SetDefault("area.east", 360)
	v.SetDefault("years.start", 1979)
	v.SetDefault("years.end", 2018)
	v.SetDefault("months", []int{3, 4, 5, 6, 7})
	v.SetDefault("format", "netcdf")
	v.SetDefault("data_dir", "NetCDF")
	v.SetDefault("on_error", "abort")
	v.SetDefault("skip_existing", false)

	v.SetDefault("cds.url", DefaultCDSURL)
	v.SetDefault("cds.key", "")
	v.SetDefault("cds.poll_interval", time.Second)
	v.SetDefault("cds.max_poll_interval", 2*time.Minute)

	v.SetDefault("breaker.max_consecutive_failures", 3)
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("publish.bucket", "")
	v.SetDefault("publish.prefix", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

var validate = validator.New()

// Validate checks the configuration for consistency.
func Validate(cfg *Config) error {
	return validate.Struct(cfg)
}

// cdsapircPath returns the location of the CDS API credentials file.
func cdsapircPath() string {
	if p := os.Getenv("CDSAPI_RC"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cdsapirc")
}

// readCDSAPIRC fills in credentials from a .cdsapirc file, which holds "url:"
// and "key:" lines. A missing file is not an error.
func readCDSAPIRC(cds *CDSConfig, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	rc := viper.New()
	rc.SetConfigFile(path)
	rc.SetConfigType("yaml")
	if err := rc.ReadInConfig(); err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	cds.Key = rc.GetString("key")
	if u := rc.GetString("url"); u != "" && cds.URL == DefaultCDSURL {
		cds.URL = u
	}
	return nil
}
