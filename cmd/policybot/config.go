package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

type options struct {
	docs        string
	indexPath   string
	showSources bool
	verbose     bool
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var opts options
	fs.StringVar(&opts.docs, "docs", "", "policy document path, directory or glob (default from config)")
	fs.StringVar(&opts.indexPath, "index", "", "index directory (default from config)")
	fs.BoolVar(&opts.showSources, "sources", true, "print the chunks each answer was grounded on")
	fs.BoolVar(&opts.verbose, "verbose", false, "log at debug level")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if fs.NArg() > 0 {
		return options{}, errors.New("unexpected arguments: " + strings.Join(fs.Args(), " "))
	}
	return opts, opts.Validate()
}

// Validate 显式传入的路径不能为空白
func (o options) Validate() error {
	if o.docs != "" && strings.TrimSpace(o.docs) == "" {
		return errors.New("-docs must not be blank")
	}
	if o.indexPath != "" && strings.TrimSpace(o.indexPath) == "" {
		return errors.New("-index must not be blank")
	}
	return nil
}

func newFlagSet(output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("policybot", flag.ContinueOnError)
	fs.SetOutput(output)
	return fs
}

// flagExitCode 打印参数错误并返回退出码，-h 时用法已由FlagSet输出
func flagExitCode(w io.Writer, err error) int {
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	return 2
}
