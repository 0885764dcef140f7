// Package knowledge 提供知识库的向量索引与检索能力。
//
// 文档按来源目录（uniswap-v2、uniswap-v3、contracts 等）切分为 Passage，
// 由 Embedder 向量化后写入 SQLite 存储；启动时整体加载为不可变快照，
// 检索方通过原子指针读取，无需加锁。
package knowledge
