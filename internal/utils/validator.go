package utils

import (
	"regexp"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateID 验证社区、成员、角色 ID 格式（1-64 个字符，字母数字下划线连字符）
func ValidateID(id string) bool {
	return idPattern.MatchString(id)
}
