// Package mysql 负责智能体运行记录的持久化：本地 JSON 行日志用于单机开发，
// MySQL 仓库用于多实例部署，二者共享同一套内置迁移脚本。
package mysql
