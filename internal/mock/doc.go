// Package mock 提供抽取流水线依赖的内存实现，供单元测试使用。
//
// 所有实现都可以并发调用，并通过函数字段注入错误。
package mock
