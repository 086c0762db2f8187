// Package tokenizer 提供评分流水线使用的分词接口，
// 支持 tiktoken 精确编码与 CJK 感知的轻量估算器。
// 估算器同时用作批次形成阶段的长度估计。
package tokenizer
