//go:build windows

package i18n

import (
	"strings"

	"golang.org/x/sys/windows"
)

// detectChineseOS 优先使用用户界面语言，失败时退回到环境变量
func detectChineseOS() bool {
	langs, err := windows.GetUserPreferredUILanguages(windows.MUI_LANGUAGE_NAME)
	if err == nil && len(langs) > 0 {
		return strings.HasPrefix(strings.ToLower(langs[0]), "zh")
	}
	return localeIsChinese()
}
