// Package redis 提供基于 Redis 的任务存储，使多个 chainpilotd 实例共享异步
// 任务状态。任务以 JSON 形式保存并带有过期时间，另用一个有序集合按创建时间
// 建立索引。
package redis
