package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		HTTP   HTTP   `envPrefix:"HTTP_"`
		Logger Logger `envPrefix:"LOG_"`
		Cache  Cache  `envPrefix:"CACHE_"`
		Render Render `envPrefix:"RENDER_"`
		Source Source `envPrefix:"SOURCE_"`
		Vips   Vips   `envPrefix:"VIPS_"`
	}

	HTTP struct {
		Port          int           `env:"PORT" envDefault:"8080"`
		ReadTimeout   time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
		WriteTimeout  time.Duration `env:"WRITE_TIMEOUT" envDefault:"60s"`
		AllowedOrigin string        `env:"ALLOWED_ORIGIN"`
	}

	Logger struct {
		Level string `env:"LEVEL" envDefault:"info"`
	}

	Cache struct {
		Type        string `env:"TYPE" envDefault:"memory"`
		FileDir     string `env:"FILE_DIR" envDefault:"./tile-cache"`
		MemoryTiles int    `env:"MEMORY_TILES" envDefault:"2000"`
		SQLitePath  string `env:"SQLITE_PATH" envDefault:"./tiles.db"`
		Redis       Redis  `envPrefix:"REDIS_"`
	}

	Redis struct {
		Addr     string        `env:"ADDR" envDefault:"localhost:6379"`
		Password string        `env:"PASSWORD"`
		DB       int           `env:"DB" envDefault:"0"`
		TTL      time.Duration `env:"TTL" envDefault:"24h"`
	}

	Render struct {
		// Workers bounds concurrent render workers; 0 means unbounded.
		Workers int `env:"WORKERS" envDefault:"0"`
		// GlobalLock serializes all renders; for engines that are not
		// reentrant across goroutines. Disables render concurrency.
		GlobalLock  bool    `env:"GLOBAL_LOCK" envDefault:"false"`
		ScaleFactor float64 `env:"SCALE_FACTOR" envDefault:"0"`
	}

	Source struct {
		// Mapfile may contain the {webmercator_level} placeholder.
		Mapfile string `env:"MAPFILE,required"`
		DataDir string `env:"DATA_DIR" envDefault:"/data"`
		// Extent is the map extent of the raster as minx,miny,maxx,maxy.
		Extent string `env:"EXTENT" envDefault:"-20037508.342789244,-20037508.342789244,20037508.342789244,20037508.342789244"`
		SRS    string `env:"SRS" envDefault:"EPSG:3857"`
		// Coverage, when set, limits the servable region.
		Coverage string  `env:"COVERAGE"`
		ResMin   float64 `env:"RES_MIN" envDefault:"0"`
		ResMax   float64 `env:"RES_MAX" envDefault:"0"`
		Opacity  float64 `env:"OPACITY" envDefault:"1"`
		Layers   []string `env:"LAYERS" envSeparator:","`
		Format   string  `env:"FORMAT" envDefault:"png"`
	}

	Vips struct {
		MaxCacheMB  int `env:"MAX_CACHE_MB" envDefault:"256"`
		Concurrency int `env:"CONCURRENCY" envDefault:"1"`
	}
)

func New() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
