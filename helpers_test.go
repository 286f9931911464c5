package main

import (
	"bytes"
	"path/filepath"
	"runtime"
	"testing"
)

// captureOutput 在测试期间把 stdOut/stdErr 换成内存缓冲区，结束时恢复。
func captureOutput(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()

	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = out, errOut
	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
	return out, errOut
}

// configFixture 返回 internal/config/testdata 下的配置样例路径。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("无法定位测试文件目录")
	}
	return filepath.Join(filepath.Dir(file), "internal", "config", "testdata", name)
}
