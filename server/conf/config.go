package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"gopkg.in/ini.v1"

	"github.com/zhukovaskychina/xmysql-btree/logger"
)

// PageSize is the only supported page size.
const PageSize = 4096

const (
	LatchModeAncestor = "ancestor"
	LatchModeTree     = "tree"
)

const (
	CompressionNone   = "none"
	CompressionSnappy = "snappy"
	CompressionLZ4    = "lz4"
)

const DefaultConfigPath = "conf/xbtree.ini"

type CommandLineArgs struct {
	ConfigPath string
}

/*
[engine]
data_dir          = data
page_size         = 4096
latch_mode        = ancestor
leaf_capacity     = 0
internal_capacity = 0
checkpoint_interval = 0

[buffer_pool]
max_pages = 1024

[lock]
timeout   = 3s
slow_wait = 100ms

[log]
file        = wal.log
compression = snappy

[logs]
log_error = logs/error.log
log_infos = logs/info.log
log_level = info
*/
type Cfg struct {
	Raw *ini.File

	// engine
	DataDir          string `default:"data" yaml:"data_dir" json:"data_dir,omitempty"`
	PageSize         int    `default:"4096" yaml:"page_size" json:"page_size,omitempty"`
	LatchMode        string `default:"ancestor" yaml:"latch_mode" json:"latch_mode,omitempty"`
	LeafCapacity     int    `default:"0" yaml:"leaf_capacity" json:"leaf_capacity,omitempty"`
	InternalCapacity int    `default:"0" yaml:"internal_capacity" json:"internal_capacity,omitempty"`

	// 0 关闭后台检查点
	CheckpointInterval time.Duration `default:"0" yaml:"checkpoint_interval" json:"checkpoint_interval,omitempty"`

	// buffer pool
	BufferPoolPages int `default:"1024" yaml:"max_pages" json:"max_pages,omitempty"`

	// lock
	LockTimeout  time.Duration `default:"3s" yaml:"timeout" json:"timeout,omitempty"`
	LockSlowWait time.Duration `default:"100ms" yaml:"slow_wait" json:"slow_wait,omitempty"`

	// write-ahead log
	LogFile        string `default:"wal.log" yaml:"file" json:"file,omitempty"`
	LogCompression string `default:"snappy" yaml:"compression" json:"compression,omitempty"`

	// logs
	LogError string `default:"" yaml:"log_error" json:"log_error,omitempty"`
	LogInfos string `default:"" yaml:"log_infos" json:"log_infos,omitempty"`
	LogLevel string `default:"info" yaml:"log_level" json:"log_level,omitempty"`
}

func NewCfg() *Cfg {
	return &Cfg{
		Raw:             ini.Empty(),
		DataDir:         "data",
		PageSize:        PageSize,
		LatchMode:       LatchModeAncestor,
		BufferPoolPages: 1024,
		LockTimeout:     3 * time.Second,
		LockSlowWait:    100 * time.Millisecond,
		LogFile:         "wal.log",
		LogCompression:  CompressionSnappy,
		LogLevel:        "info",
	}
}

// Load reads the configuration file named by args (ini, or TOML when the name ends in
// .toml). A missing file leaves the defaults in place.
func (cfg *Cfg) Load(args *CommandLineArgs) (*Cfg, error) {
	raw, err := cfg.loadConfiguration(args)
	if err != nil {
		return nil, err
	}
	cfg.Raw = raw

	cfg.parseEngineCfg(cfg.Raw.Section("engine"))
	cfg.parseBufferPoolCfg(cfg.Raw.Section("buffer_pool"))
	cfg.parseLockCfg(cfg.Raw.Section("lock"))
	cfg.parseLogCfg(cfg.Raw.Section("log"))
	cfg.parseLogsCfg(cfg.Raw.Section("logs"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Cfg) loadConfiguration(args *CommandLineArgs) (*ini.File, error) {
	configFile := DefaultConfigPath
	if args != nil && args.ConfigPath != "" {
		configFile = args.ConfigPath
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		logger.Debugf("配置文件不存在: %s，使用默认配置", configFile)
		return ini.Empty(), nil
	}

	if strings.EqualFold(filepath.Ext(configFile), ".toml") {
		tree, err := toml.LoadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %v", configFile, err)
		}
		return tomlToIni(tree), nil
	}

	parsed, err := ini.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %v", configFile, err)
	}
	logger.Debugf("成功加载配置文件: %s", configFile)
	return parsed, nil
}

// tomlToIni flattens one level of TOML tables into ini sections so both formats share
// the section parsers below.
func tomlToIni(tree *toml.Tree) *ini.File {
	file := ini.Empty()
	for _, name := range tree.Keys() {
		sub, ok := tree.Get(name).(*toml.Tree)
		if !ok {
			file.Section("").Key(name).SetValue(fmt.Sprint(tree.Get(name)))
			continue
		}
		section := file.Section(name)
		for _, key := range sub.Keys() {
			section.Key(key).SetValue(fmt.Sprint(sub.Get(key)))
		}
	}
	return file
}

func (cfg *Cfg) parseEngineCfg(section *ini.Section) {
	cfg.DataDir, _ = valueAsString(section, "data_dir", cfg.DataDir)
	cfg.PageSize = section.Key("page_size").MustInt(cfg.PageSize)
	cfg.LatchMode, _ = valueAsString(section, "latch_mode", cfg.LatchMode)
	cfg.LeafCapacity = section.Key("leaf_capacity").MustInt(cfg.LeafCapacity)
	cfg.InternalCapacity = section.Key("internal_capacity").MustInt(cfg.InternalCapacity)
	cfg.CheckpointInterval = section.Key("checkpoint_interval").MustDuration(cfg.CheckpointInterval)
}

func (cfg *Cfg) parseBufferPoolCfg(section *ini.Section) {
	cfg.BufferPoolPages = section.Key("max_pages").MustInt(cfg.BufferPoolPages)
}

func (cfg *Cfg) parseLockCfg(section *ini.Section) {
	cfg.LockTimeout = section.Key("timeout").MustDuration(cfg.LockTimeout)
	cfg.LockSlowWait = section.Key("slow_wait").MustDuration(cfg.LockSlowWait)
}

func (cfg *Cfg) parseLogCfg(section *ini.Section) {
	cfg.LogFile, _ = valueAsString(section, "file", cfg.LogFile)
	cfg.LogCompression, _ = valueAsString(section, "compression", cfg.LogCompression)
}

func (cfg *Cfg) parseLogsCfg(section *ini.Section) {
	cfg.LogError, _ = valueAsString(section, "log_error", cfg.LogError)
	cfg.LogInfos, _ = valueAsString(section, "log_infos", cfg.LogInfos)
	cfg.LogLevel, _ = valueAsString(section, "log_level", cfg.LogLevel)
}

// Validate rejects settings the engine cannot run with.
func (cfg *Cfg) Validate() error {
	if cfg.PageSize != PageSize {
		return fmt.Errorf("engine.page_size must be %d, got %d", PageSize, cfg.PageSize)
	}
	switch cfg.LatchMode {
	case LatchModeAncestor, LatchModeTree:
	default:
		return fmt.Errorf("engine.latch_mode %q is not one of ancestor, tree", cfg.LatchMode)
	}
	if cfg.LeafCapacity != 0 && cfg.LeafCapacity < 2 {
		return fmt.Errorf("engine.leaf_capacity must be 0 or >= 2, got %d", cfg.LeafCapacity)
	}
	if cfg.InternalCapacity != 0 && cfg.InternalCapacity < 2 {
		return fmt.Errorf("engine.internal_capacity must be 0 or >= 2, got %d", cfg.InternalCapacity)
	}
	if cfg.CheckpointInterval < 0 {
		return fmt.Errorf("engine.checkpoint_interval must not be negative")
	}
	// a split pins the latched path plus the new pages, about 2*height+4
	// frames. Running out aborts the writing transaction.
	if cfg.BufferPoolPages < MinBufferPoolPages {
		return fmt.Errorf("buffer_pool.max_pages must be >= %d, got %d", MinBufferPoolPages, cfg.BufferPoolPages)
	}
	if cfg.LockTimeout <= 0 {
		return fmt.Errorf("lock.timeout must be positive")
	}
	switch cfg.LogCompression {
	case CompressionNone, CompressionSnappy, CompressionLZ4:
	default:
		return fmt.Errorf("log.compression %q is not one of none, snappy, lz4", cfg.LogCompression)
	}
	return nil
}

// MinBufferPoolPages is the smallest accepted buffer_pool.max_pages.
const MinBufferPoolPages = 16

// LogFilePath is the WAL location inside the data directory.
func (cfg *Cfg) LogFilePath() string {
	if filepath.IsAbs(cfg.LogFile) {
		return cfg.LogFile
	}
	return filepath.Join(cfg.DataDir, cfg.LogFile)
}

func valueAsString(section *ini.Section, keyName string, defaultValue string) (value string, err error) {
	if section == nil {
		return defaultValue, nil
	}
	value = section.Key(keyName).MustString(defaultValue)
	if value == "" {
		value = defaultValue
	}
	return value, nil
}

// GetString 获取配置项的字符串值
func (cfg *Cfg) GetString(key string) string {
	parts := strings.Split(key, ".")
	if len(parts) < 2 {
		return ""
	}
	value, _ := valueAsString(cfg.Raw.Section(parts[0]), strings.Join(parts[1:], "."), "")
	return value
}

// GetInt 获取配置项的整数值
func (cfg *Cfg) GetInt(key string) int {
	parts := strings.Split(key, ".")
	if len(parts) < 2 {
		return 0
	}
	return cfg.Raw.Section(parts[0]).Key(strings.Join(parts[1:], ".")).MustInt(0)
}
