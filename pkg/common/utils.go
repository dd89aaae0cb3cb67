// Copyright (c) 2023 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package common

import (
	"os"
	"strings"
)

// ExpandEnv expands ${VAR} and ${VAR:default} references in s.
// Unset or empty variables resolve to the default, or to "" when none is given.
func ExpandEnv(s string) string {
	return os.Expand(s, func(key string) string {
		parts := strings.SplitN(key, ":", 2)
		defaultValue := ""
		if len(parts) == 2 {
			defaultValue = parts[1]
		}

		if value := os.Getenv(parts[0]); value != "" {
			return value
		}
		return defaultValue
	})
}

// NormalizeIdentity returns the case-insensitive form of a username.
func NormalizeIdentity(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}
