// Package job 提供异步提交：消息先写入任务存储并投递到队列，由 Processor
// 消费后交给编排器处理，调用方随后按 ID 查询或等待结果。
package job
