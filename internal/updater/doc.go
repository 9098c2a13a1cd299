// Package updater 实现客户端侧的更新协调：发现新安装的 worker 代后询问用户，
// 用户同意时向该代发送 SKIP_WAITING 并触发重新加载。
package updater
