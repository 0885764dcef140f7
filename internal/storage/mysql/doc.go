// Package mysql 将会话的 Turn、工具调用与重置事件写入 MySQL 作为审计记录。
// 表结构由 deploy/migrations 中的内嵌迁移文件维护。
package mysql
