// Package strategy 描述缓存层的请求分类与策略元数据。
//
// Classifier 按固定决策表把拦截到的请求映射为一种 Kind；每种 Kind 在注册表中
// 登记一份 Profile（读写哪个分区、先网络还是先缓存），供执行引擎与 /-/strategies
// 诊断接口共同使用。
package strategy
