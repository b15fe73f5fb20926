// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供守护进程的 HTTP 服务：生命周期管理、健康检查与指标暴露。

# 核心类型

  - Manager：封装 net/http.Server，提供非阻塞 Start、带超时的
    Shutdown 与异步错误通道 Errors。
  - HealthHandler：/health 存活探针与 /ready 就绪检查，
    就绪检查逐个运行已注册的 HealthCheck（例如快照存储连通性）。
  - NewHandler：组装 /health、/ready、/metrics 路由，并串联
    Recovery、RequestLogger 与 MetricsMiddleware 中间件。
*/
package server
