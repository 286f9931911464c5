package main

import (
	"fmt"

	"github.com/kuryecini/kuryecini-edge/internal/version"
)

// printVersion 输出注入的版本 + 提交信息。
func printVersion() {
	fmt.Fprintln(stdOut, version.Full())
}
