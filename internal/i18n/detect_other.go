//go:build !windows

package i18n

func detectChineseOS() bool {
	return localeIsChinese()
}
