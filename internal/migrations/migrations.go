// Package migrations содержит SQL миграции схемы учетных данных и профилей
package migrations

import "embed"

// FS встроенные файлы миграций goose
//
//go:embed *.sql
var FS embed.FS
