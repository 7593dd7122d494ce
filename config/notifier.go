package config

// NotifierConfig 保存一个 `notify-<name>` 分节的原始键值对；核心对其内容不透明，
// 原样转发给对应名称的通知器连接作为握手/配置信息。
type NotifierConfig map[string]string
