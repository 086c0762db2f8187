// Copyright (c) ScoreFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 scoreflow 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertScoresEqual / AssertEventuallyTrue
  - 时间工具: WaitFor / WaitForChannel
  - 数据工具: MustJSON / MarkedPairs，用于构造可回溯的输入对

# 子包

  - testutil/mocks: MockBackend，可编排分数函数、延迟、错误注入与
    阻塞闸门，用于流水线与 Worker 池测试

# 使用示例

	ctx := testutil.TestContext(t)
	backend := mocks.NewMockBackend().WithDelay(5 * time.Millisecond)
	scores, err := backend.Infer(ctx, batch)
*/
package testutil
