// Package i18n omgc 命令行的中英文消息
package i18n

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Language 语言类型
type Language string

const (
	LangEnglish Language = "en"
	LangChinese Language = "zh"
)

// LanguageEnvVar 指定语言的环境变量
const LanguageEnvVar = "OMG_LANG"

// 全局语言设置
var (
	currentLang Language = LangEnglish
	mu          sync.RWMutex
)

// SetLanguage 设置当前语言
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()
	currentLang = lang
}

// SetLanguageFromString 从字符串设置语言
func SetLanguageFromString(lang string) {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "zh", "zh-cn", "zh-tw", "zh-hk", "chinese":
		SetLanguage(LangChinese)
	default:
		SetLanguage(LangEnglish)
	}
}

// GetLanguage 获取当前语言
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// Init 按优先级选择语言：命令行参数、OMG_LANG、操作系统语言，最后是英文
func Init(override string) {
	if override != "" {
		SetLanguageFromString(override)
		return
	}
	if env := os.Getenv(LanguageEnvVar); env != "" {
		SetLanguageFromString(env)
		return
	}
	if detectChineseOS() {
		SetLanguage(LangChinese)
		return
	}
	SetLanguage(LangEnglish)
}

// localeIsChinese 检查 LANG 一类的环境变量
func localeIsChinese() bool {
	for _, v := range []string{"LC_ALL", "LC_MESSAGES", "LANGUAGE", "LANG"} {
		if val := strings.ToLower(os.Getenv(v)); val != "" {
			return strings.HasPrefix(val, "zh") || strings.Contains(val, "chinese")
		}
	}
	return false
}

// T 翻译消息（支持格式化参数）
func T(msgID string, args ...interface{}) string {
	messages := messagesEN
	if GetLanguage() == LangChinese {
		messages = messagesZH
	}

	msg, ok := messages[msgID]
	if !ok {
		// 回退到英文
		if msg, ok = messagesEN[msgID]; !ok {
			return msgID
		}
	}
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}
