// Package lifecycle 管理 worker 代（generation）的 install → activate 状态机。
//
// Controller 表示单个代：install 时解析版本并预缓存页面，activate 时清理旧版本
// 分区；Runtime 持有 installing/waiting/active 三个槽位，负责版本更新检查、事件
// 广播以及把拦截请求路由到当前生效的代。
package lifecycle
