package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	jerrors "github.com/juju/errors"

	"github.com/zhukovaskychina/xmysql-btree/logger"
	"github.com/zhukovaskychina/xmysql-btree/server/conf"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/basic"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/btree"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/engine"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/manager"
	"github.com/zhukovaskychina/xmysql-btree/server/innodb/storage/store/logs"
)

const version = "0.4.0"

const banner = `
******************************************************************************************
 __   ____  __        ____ _____ ____  _____ _____
 \ \ / /  \/  |      |  _ \_   _|  _ \| ____| ____|
  \ V /| \  / |______| |_) || | | |_) |  _| |  _|
   > < | |\/| |______|  _ < | | |  _ <| |___| |___
  /_/ \_\_|  |_|      |____/ |_| |_| \_\_____|_____|
******************************************************************************************
`

// CLI 命令行定义
var CLI struct {
	Config  string `name:"config" short:"c" help:"配置文件路径 (ini, or toml by extension)" type:"path"`
	DataDir string `name:"data-dir" help:"Override engine.data_dir" type:"path"`

	Demo    DemoCmd    `cmd:"" help:"Build the sample tree, search it and delete one key"`
	Log     LogCmd     `cmd:"" help:"Dump the write-ahead log"`
	Recover RecoverCmd `cmd:"" help:"Replay the log into the page files and report"`
	Draw    DrawCmd    `cmd:"" help:"Draw the pages of a table"`
	Version VersionCmd `cmd:"" help:"Print version information"`
}

type DemoCmd struct {
	Keys     []int64 `help:"Keys to insert" default:"5,3,8,1,9,2,7,4,6"`
	Delete   int64   `help:"Key to delete afterwards" default:"7"`
	Capacity int     `help:"Leaf and internal capacity" default:"4"`
}

type LogCmd struct{}

type RecoverCmd struct{}

type DrawCmd struct {
	Table  string `arg:"" help:"Table name"`
	Schema string `help:"Column list, e.g. id:int,name:char(16)" default:"id:int,v:int"`
	Key    int    `help:"Key column index" default:"0"`
	Depth  int    `help:"Maximum depth to draw" default:"8"`
}

type VersionCmd struct{}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("xbtree"),
		kong.Description("Paged B+-tree storage engine tools"),
		kong.UsageOnError(),
	)
	cfg, err := loadConfig()
	if err == nil {
		err = ctx.Run(cfg)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, jerrors.ErrorStack(err))
		os.Exit(1)
	}
}

func loadConfig() (*conf.Cfg, error) {
	cfg, err := conf.NewCfg().Load(&conf.CommandLineArgs{ConfigPath: CLI.Config})
	if err != nil {
		return nil, jerrors.Annotate(err, "load config")
	}
	if CLI.DataDir != "" {
		cfg.DataDir = CLI.DataDir
	}
	if err := logger.InitLogger(logger.LogConfig{
		ErrorLogPath: cfg.LogError,
		InfoLogPath:  cfg.LogInfos,
		LogLevel:     cfg.LogLevel,
	}); err != nil {
		return nil, jerrors.Annotate(err, "init logger")
	}
	return cfg, nil
}

func (c *DemoCmd) Run(cfg *conf.Cfg) error {
	fmt.Print(banner)
	if CLI.DataDir == "" {
		dir, err := os.MkdirTemp("", "xbtree-demo-")
		if err != nil {
			return jerrors.Trace(err)
		}
		defer os.RemoveAll(dir)
		cfg.DataDir = dir
	}
	cfg.LeafCapacity = c.Capacity
	cfg.InternalCapacity = c.Capacity

	db, err := engine.Open(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	table, err := db.CreateTable("demo", basic.NewIntSchema("k", "v"), 0)
	if err != nil {
		return err
	}
	err = runTx(db, func(tx *manager.Transaction) error {
		for _, k := range c.Keys {
			if err := table.Insert(tx, basic.IntTuple(k, k*10)); err != nil {
				return jerrors.Annotatef(err, "insert %d", k)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := drawTable(db, table, 8); err != nil {
		return err
	}

	err = runTx(db, func(tx *manager.Transaction) error {
		for _, pred := range []*basic.Predicate{
			basic.NewPredicate(0, basic.Equals, basic.IntCell(4)),
			basic.NewPredicate(0, basic.GreaterThanOrEq, basic.IntCell(6)),
		} {
			it, err := table.Search(tx, pred)
			if err != nil {
				return err
			}
			found, err := it.All()
			if err != nil {
				return err
			}
			fmt.Printf("k %s %s -> %v\n", pred.Op, pred.Value, found)
		}
		return table.Delete(tx, basic.IntTuple(c.Delete, c.Delete*10))
	})
	if err != nil {
		return err
	}
	fmt.Printf("after deleting %d:\n", c.Delete)
	if err := drawTable(db, table, 8); err != nil {
		return err
	}
	return runTx(db, func(tx *manager.Transaction) error {
		return table.CheckIntegrity(tx)
	})
}

func (c *LogCmd) Run(cfg *conf.Cfg) error {
	codec, err := logs.ParseCodec(cfg.LogCompression)
	if err != nil {
		return err
	}
	wal, err := manager.NewLogManager(cfg.LogFilePath(), codec)
	if err != nil {
		return err
	}
	defer wal.Close()
	out, err := wal.ShowLogContents()
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func (c *RecoverCmd) Run(cfg *conf.Cfg) error {
	db, err := engine.Open(cfg)
	if err != nil {
		return err
	}
	st := db.Recovery()
	fmt.Printf("recovered %s: records=%d winners=%d losers=%d redone=%d undone=%d torn=%dB max_tx=%d\n",
		filepath.Clean(cfg.DataDir), st.Records, st.Winners, st.Losers, st.Redone, st.Undone, st.TornBytes, st.MaxTxID)
	return db.Close()
}

func (c *DrawCmd) Run(cfg *conf.Cfg) error {
	schema, err := parseSchema(c.Schema)
	if err != nil {
		return err
	}
	db, err := engine.Open(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	table, err := db.OpenTable(c.Table, schema, c.Key)
	if err != nil {
		return err
	}
	return drawTable(db, table, c.Depth)
}

func (c *VersionCmd) Run() error {
	fmt.Printf("xbtree %s\n", version)
	return nil
}

func drawTable(db *engine.Database, table *btree.Table, depth int) error {
	return runTx(db, func(tx *manager.Transaction) error {
		out, err := table.DrawTree(tx, depth)
		if err != nil {
			return err
		}
		n, err := table.TupleCount(tx)
		if err != nil {
			return err
		}
		fmt.Print(out)
		fmt.Printf("%d tuples\n", n)
		return nil
	})
}

func runTx(db *engine.Database, fn func(tx *manager.Transaction) error) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if abortErr := db.Abort(tx); abortErr != nil {
			logger.Errorf("abort tx %d: %v", tx.ID, abortErr)
		}
		return err
	}
	return db.Commit(tx)
}
