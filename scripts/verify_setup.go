package main

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/shirou/gopsutil/v3/mem"
)

// minGoMinor 要求的最低Go次版本号
const minGoMinor = 23

func main() {
	fmt.Println("==============================================")
	fmt.Println("  imgharvest 环境验证")
	fmt.Println("==============================================")
	fmt.Println()

	allOK := true

	goVersion := runtime.Version()
	fmt.Printf("✅ Go版本: %s\n", goVersion)
	if minor, ok := goMinor(goVersion); ok && minor < minGoMinor {
		fmt.Printf("⚠️  警告: 建议使用Go 1.%d+版本\n", minGoMinor)
	}

	fmt.Printf("✅ 操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	// 动态模式依赖本机Chromium; 找不到时go-rod会在首次运行时下载
	if path, has := launcher.LookPath(); has {
		fmt.Printf("✅ Chromium: %s\n", path)
	} else {
		fmt.Println("⚠️  未找到Chromium/Chrome - 首次运行动态模式时会自动下载")
		fmt.Println("   或使用 --mode static 跳过浏览器")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		fmt.Printf("✅ 可用内存: %.1f GB / %.1f GB\n",
			float64(vm.Available)/(1<<30), float64(vm.Total)/(1<<30))
		if vm.Available < 512*1024*1024 {
			fmt.Println("⚠️  可用内存不足512MB,浏览器可能无法启动")
		}
	}

	fmt.Println()
	fmt.Println("检查Go模块依赖...")
	if _, err := os.Stat("go.mod"); err == nil {
		fmt.Println("✅ go.mod文件存在")

		fmt.Println("正在下载依赖...")
		cmd := exec.Command("go", "mod", "download")
		if err := cmd.Run(); err != nil {
			fmt.Printf("❌ go mod download失败: %v\n", err)
			allOK = false
		} else {
			fmt.Println("✅ 依赖下载完成")
		}
	} else {
		fmt.Println("❌ go.mod文件不存在")
		allOK = false
	}

	fmt.Println()
	fmt.Println("检查项目结构...")
	requiredDirs := []string{
		"cmd/imgharvest",
		"internal/config",
		"internal/core",
		"internal/crawlers",
		"internal/utils",
		"internal/models",
		"scripts",
	}

	for _, dir := range requiredDirs {
		if _, err := os.Stat(dir); err == nil {
			fmt.Printf("✅ %s/\n", dir)
		} else {
			fmt.Printf("❌ %s/ 不存在\n", dir)
			allOK = false
		}
	}

	fmt.Println()
	fmt.Println("==============================================")
	if allOK {
		fmt.Println("✅ 环境验证通过!")
		fmt.Println()
		fmt.Println("下一步:")
		fmt.Println("  1. 运行 'go build ./cmd/imgharvest' 构建")
		fmt.Println("  2. 运行 './imgharvest --help' 查看帮助")
		os.Exit(0)
	}
	fmt.Println("❌ 环境验证失败,请解决上述问题。")
	os.Exit(1)
}

// goMinor 从 "go1.23.3" 中取出次版本号
func goMinor(version string) (int, bool) {
	parts := strings.Split(strings.TrimPrefix(version, "go"), ".")
	if len(parts) < 2 {
		return 0, false
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	return minor, true
}
